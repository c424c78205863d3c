package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/model"

	"github.com/tidwall/gjson"
)

// ListTerms returns every enrollment term of the account.
func (c *Client) ListTerms(ctx context.Context) ([]model.CanvasTerm, error) {
	path := fmt.Sprintf("/api/v1/accounts/%d/terms", c.cfg.AccountID)

	var terms []model.CanvasTerm
	err := c.getAll(ctx, path, nil, func(body []byte) error {
		var page []model.CanvasTerm
		raw := gjson.GetBytes(body, "enrollment_terms")
		if !raw.Exists() {
			return fmt.Errorf("missing enrollment_terms")
		}
		if err := json.Unmarshal([]byte(raw.Raw), &page); err != nil {
			return err
		}
		terms = append(terms, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return terms, nil
}

// ListUsers returns every student user of the account.
func (c *Client) ListUsers(ctx context.Context) ([]model.CanvasUser, error) {
	path := fmt.Sprintf("/api/v1/accounts/%d/users", c.cfg.AccountID)
	query := url.Values{"enrollment_type": {"student"}}

	var users []model.CanvasUser
	err := c.getAll(ctx, path, query, appendJSON(&users))
	if err != nil {
		return nil, err
	}
	return users, nil
}

// ListCourses returns the account's courses in a term.
func (c *Client) ListCourses(ctx context.Context, termID int64) ([]model.CanvasCourse, error) {
	path := fmt.Sprintf("/api/v1/accounts/%d/courses", c.cfg.AccountID)
	query := url.Values{"enrollment_term_id": {strconv.FormatInt(termID, 10)}}
	if c.cfg.PublishedCourses {
		query.Set("published", "true")
	}

	var courses []model.CanvasCourse
	err := c.getAll(ctx, path, query, appendJSON(&courses))
	if err != nil {
		return nil, err
	}
	return courses, nil
}

// ListCourseSections returns the course sections with students and their enrollments.
func (c *Client) ListCourseSections(ctx context.Context, courseID int64) ([]model.CanvasSection, error) {
	path := fmt.Sprintf("/api/v1/courses/%d/sections", courseID)
	query := url.Values{"include[]": {"students", "enrollments"}}

	var sections []model.CanvasSection
	err := c.getAll(ctx, path, query, appendJSON(&sections))
	if err != nil {
		return nil, err
	}
	return sections, nil
}

// ListOutcomeResults returns every outcome result of the course together
// with the linked outcomes and alignments, optionally limited to userIDs.
func (c *Client) ListOutcomeResults(ctx context.Context, courseID int64, userIDs []int64) (*model.OutcomeResultSet, error) {
	path := fmt.Sprintf("/api/v1/courses/%d/outcome_results", courseID)
	query := url.Values{"include[]": {"alignments", "outcomes.alignments", "outcomes"}}
	for _, id := range userIDs {
		query.Add("user_ids[]", strconv.FormatInt(id, 10))
	}

	set := &model.OutcomeResultSet{}
	err := c.getAll(ctx, path, query, func(body []byte) error {
		doc := gjson.ParseBytes(body)
		if !doc.Get("outcome_results").Exists() {
			return fmt.Errorf("missing outcome_results")
		}

		for _, r := range doc.Get("outcome_results").Array() {
			result, err := parseOutcomeResult(r)
			if err != nil {
				return err
			}
			set.Results = append(set.Results, result)
		}

		for _, o := range doc.Get("linked.outcomes").Array() {
			set.Outcomes = append(set.Outcomes, model.CanvasOutcome{
				ID:             o.Get("id").Int(),
				Title:          o.Get("title").String(),
				DisplayName:    o.Get("display_name").String(),
				CalculationInt: int(o.Get("calculation_int").Int()),
			})
		}

		for _, a := range doc.Get("linked.alignments").Array() {
			set.Alignments = append(set.Alignments, model.CanvasAlignment{
				ID:   a.Get("id").String(),
				Name: a.Get("name").String(),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// parseOutcomeResult flattens a result; the "links" ids arrive as strings.
func parseOutcomeResult(r gjson.Result) (model.CanvasOutcomeResult, error) {
	result := model.CanvasOutcomeResult{
		ID:          r.Get("id").Int(),
		UserID:      r.Get("links.user").Int(),
		OutcomeID:   r.Get("links.learning_outcome").Int(),
		AlignmentID: r.Get("links.alignment").String(),
	}
	if result.ID == 0 {
		return result, fmt.Errorf("outcome result without id: %s", r.Raw)
	}

	if score := r.Get("score"); score.Exists() && score.Type != gjson.Null {
		v := score.Float()
		result.Score = &v
	}

	// Left zero when absent, which keeps the result out of the drop policy.
	if ts := r.Get("submitted_or_assessed_at").String(); ts != "" {
		at, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return result, fmt.Errorf("outcome result %d: invalid submitted_or_assessed_at: %w", result.ID, err)
		}
		result.SubmittedOrAssessedAt = at.UTC()
	}
	return result, nil
}

func appendJSON[T any](dst *[]T) pageHandler {
	return func(body []byte) error {
		var page []T
		if err := json.Unmarshal(body, &page); err != nil {
			return err
		}
		*dst = append(*dst, page...)
		return nil
	}
}
