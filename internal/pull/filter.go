package pull

import (
	"fmt"
	"regexp"
)

// CourseFilter decides once, at ingestion time, whether a course is academic.
type CourseFilter struct {
	excludes []*regexp.Regexp
}

func NewCourseFilter(patterns []string) (*CourseFilter, error) {
	f := &CourseFilter{}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid course exclude pattern %q: %w", p, err)
		}
		f.excludes = append(f.excludes, re)
	}
	return f, nil
}

func (f *CourseFilter) IsGradable(name string) bool {
	for _, re := range f.excludes {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}
