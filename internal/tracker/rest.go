package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"issuefs/internal/logging"

	pkgerrors "github.com/pkg/errors"
)

var restLogger = logging.GetLogger().WithPrefix("rest")

// restClient is the HTTP plumbing shared by all tracker backends:
// JSON GETs with a bounded retry/backoff loop. Rate-limit (429) and
// server-side (5xx) responses are retried honoring Retry-After; other
// failures surface immediately with a classified *Error.
type restClient struct {
	kind       Kind
	baseURL    string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	// header decoration differs per tracker (bearer token, api keys)
	decorate func(*http.Request)
}

func newRESTClient(kind Kind, baseURL string, decorate func(*http.Request)) *restClient {
	return &restClient{
		kind:       kind,
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   3 * time.Second,
		decorate:   decorate,
	}
}

// getJSON fetches baseURL+path?query and decodes the JSON response
// into out. A nil query is allowed.
func (c *restClient) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return NewError(c.kind, CodeUnknown, err)
		}
		req.Header.Set("Accept", "application/json")
		if c.decorate != nil {
			c.decorate(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return NewError(c.kind, CodeNetwork, ctx.Err())
			}
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return NewError(c.kind, CodeNetwork, waitErr)
				}
				continue
			}
			return NewError(c.kind, CodeNetwork, err)
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return NewError(c.kind, CodeNetwork, readErr)
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payload) == 0 {
				return nil
			}
			if err := json.Unmarshal(payload, out); err != nil {
				return NewError(c.kind, CodeUnknown, pkgerrors.Wrap(err, "decode response"))
			}
			return nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			restLogger.Debug("%s: http %d for %s, retrying (attempt %d)",
				c.kind, resp.StatusCode, path, attempt+1)
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return NewError(c.kind, CodeNetwork, waitErr)
			}
			continue
		}

		return c.classifyStatus(resp.StatusCode, payload)
	}
}

func (c *restClient) classifyStatus(status int, payload []byte) error {
	msg := strings.TrimSpace(string(payload))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	err := fmt.Errorf("http %d: %s", status, msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(c.kind, CodeAuth, err)
	case status == http.StatusTooManyRequests:
		return NewError(c.kind, CodeRateLimit, err)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return NewError(c.kind, CodeBadQuery, err)
	case status >= 500:
		return NewError(c.kind, CodeNetwork, err)
	default:
		return NewError(c.kind, CodeUnknown, err)
	}
}

func (c *restClient) retryDelay(attempt int, retryAfter string) time.Duration {
	if retryAfter != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(retryAfter)); err == nil && secs > 0 {
			delay := time.Duration(secs) * time.Second
			if delay > c.maxDelay {
				return c.maxDelay
			}
			return delay
		}
	}
	delay := c.baseDelay << uint(attempt-1)
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func waitWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isNotFound reports whether err is an HTTP 404-style miss, used by
// FetchByIDs implementations to treat unknown ids as omissions.
func isNotFound(err error) bool {
	var terr *Error
	if !pkgerrors.As(err, &terr) {
		return false
	}
	return terr.Code == CodeUnknown && strings.Contains(terr.Err.Error(), "http 404")
}
