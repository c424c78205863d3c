// Package canvas is the paged REST client for the Canvas LMS. Every list
// operation follows the Link header until the last page and returns the
// complete collection.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mwcooley99/cbl-lti-app/internal/config"
	"github.com/mwcooley99/cbl-lti-app/internal/logger"
	apperrors "github.com/mwcooley99/cbl-lti-app/pkg/errors"

	"github.com/rs/zerolog"
	"github.com/tomnomnom/linkheader"
)

type Client struct {
	cfg        config.CanvasConfig
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(cfg *config.Config) (*Client, error) {
	if cfg.Canvas.Token == "" {
		return nil, apperrors.NewFatalError(apperrors.ErrMissingCredentials)
	}
	return &Client{
		cfg:     cfg.Canvas,
		baseURL: strings.TrimRight(cfg.Canvas.BaseURL, "/"),
		token:   cfg.Canvas.Token,
		httpClient: &http.Client{
			Timeout: cfg.Canvas.Timeout,
		},
		log: logger.Component("canvas"),
	}, nil
}

// pageHandler receives the raw body of each page in order.
type pageHandler func(body []byte) error

// getAll requests path and every page linked from it. A failure on any page
// fails the whole call so callers never act on a partial collection.
func (c *Client) getAll(ctx context.Context, path string, query url.Values, handle pageHandler) error {
	if query == nil {
		query = url.Values{}
	}
	if c.cfg.PerPage > 0 {
		query.Set("per_page", fmt.Sprint(c.cfg.PerPage))
	}

	next := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		next += "?" + encoded
	}

	pages := 0
	for next != "" {
		body, link, err := c.fetchPage(ctx, next)
		if err != nil {
			return fmt.Errorf("%s page %d: %w", path, pages+1, err)
		}
		if err := handle(body); err != nil {
			return fmt.Errorf("%s page %d: failed to decode response: %w", path, pages+1, err)
		}
		pages++
		next = link
	}

	c.log.Debug().Str("path", path).Int("pages", pages).Msg("Fetched collection")
	return nil
}

// fetchPage retries transient failures with a linearly growing delay.
func (c *Client) fetchPage(ctx context.Context, pageURL string) ([]byte, string, error) {
	attempts := c.cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, "", ctx.Err()
			case <-time.After(c.cfg.RetryDelay * time.Duration(attempt)):
			}
		}

		body, next, err := c.doGet(ctx, pageURL)
		if err == nil {
			return body, next, nil
		}
		if !apperrors.IsRetryable(err) {
			return nil, "", err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt+1).Str("url", pageURL).Msg("Page fetch failed, retrying")
	}

	return nil, "", fmt.Errorf("retries exhausted: %w", lastErr)
}

func (c *Client) doGet(ctx context.Context, pageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, "", apperrors.NewRetryableError(apperrors.ErrExternalAPITimeout, "request timed out")
		}
		return nil, "", apperrors.NewRetryableError(err, "HTTP request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apperrors.NewRetryableError(err, "failed to read response body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nextLink(resp.Header), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", fmt.Errorf("%w: status %d", apperrors.ErrAuthenticationFailed, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("%w: %s", apperrors.ErrNotFound, pageURL)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, "", apperrors.NewRetryableError(
			fmt.Errorf("%w: status %d", apperrors.ErrExternalAPIError, resp.StatusCode),
			"external service unavailable")
	default:
		return nil, "", fmt.Errorf("%w: status %d: %s", apperrors.ErrExternalAPIError, resp.StatusCode, truncate(body, 200))
	}
}

func nextLink(header http.Header) string {
	for _, link := range linkheader.ParseMultiple(header.Values("Link")).FilterByRel("next") {
		if link.URL != "" {
			return link.URL
		}
	}
	return ""
}

func truncate(body []byte, n int) string {
	if len(body) > n {
		return string(body[:n]) + "..."
	}
	return string(body)
}
