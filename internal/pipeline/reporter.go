package pipeline

import (
	"github.com/mwcooley99/cbl-lti-app/internal/logger"

	"github.com/rs/zerolog"
)

// Reporter receives coarse progress of a run. Progress is 0-100.
type Reporter interface {
	Started()
	Progress(pct int, msg string)
	Completed(report *RunReport)
	Failed(err error)
}

// LogReporter writes progress to the log only.
type LogReporter struct {
	log zerolog.Logger
}

func NewLogReporter() *LogReporter {
	return &LogReporter{log: logger.Component("run")}
}

func (r *LogReporter) Started() {
	r.log.Info().Msg("Run started")
}

func (r *LogReporter) Progress(pct int, msg string) {
	r.log.Info().Int("progress", pct).Msg(msg)
}

func (r *LogReporter) Completed(report *RunReport) {
	r.log.Info().
		Str("status", string(report.Status)).
		Int("terms", len(report.Terms)).
		Int("skipped_courses", len(report.SkippedCourses())).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Run completed")
}

func (r *LogReporter) Failed(err error) {
	r.log.Error().Err(err).Msg("Run failed")
}
