package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// RedmineClient talks to the Redmine REST API, authenticating with the
// X-Redmine-API-Key header.
type RedmineClient struct {
	rest *restClient
}

// NewRedmineClient builds a client for the Redmine instance at baseURL.
func NewRedmineClient(baseURL, apiKey string) *RedmineClient {
	return &RedmineClient{
		rest: newRESTClient(KindRedmine, baseURL, func(req *http.Request) {
			req.Header.Set("X-Redmine-API-Key", apiKey)
		}),
	}
}

func (c *RedmineClient) Kind() Kind { return KindRedmine }

type redmineIssuePayload struct {
	ID          int    `json:"id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Status      struct {
		Name string `json:"name"`
	} `json:"status"`
	UpdatedOn string `json:"updated_on"`
	Journals  []struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
		Notes     string `json:"notes"`
		CreatedOn string `json:"created_on"`
	} `json:"journals"`
}

// Search matches issues whose subject contains the query term.
func (c *RedmineClient) Search(ctx context.Context, query string) ([]Issue, error) {
	params := url.Values{}
	params.Set("subject", "~"+query)
	params.Set("limit", "100")
	params.Set("sort", "updated_on:desc")
	params.Set("status_id", "*")

	var payload struct {
		Issues []redmineIssuePayload `json:"issues"`
	}
	if err := c.rest.getJSON(ctx, "/issues.json", params, &payload); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(payload.Issues))
	for _, raw := range payload.Issues {
		// The list endpoint does not include journals; fetch each
		// issue individually so comments are rendered too.
		full, err := c.fetchOne(ctx, raw.ID)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		issues = append(issues, full)
	}
	return issues, nil
}

// FetchByIDs fetches issues by numeric id; non-numeric or unknown ids
// are skipped.
func (c *RedmineClient) FetchByIDs(ctx context.Context, ids []string) ([]Issue, error) {
	issues := make([]Issue, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil {
			restLogger.Warn("redmine: skipping non-numeric issue id %q", id)
			continue
		}
		issue, err := c.fetchOne(ctx, n)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		issue.FromExplicitID = true
		issues = append(issues, issue)
	}
	return issues, nil
}

// Version checks authentication and reports the current user identity.
// Redmine exposes no version endpoint over REST.
func (c *RedmineClient) Version(ctx context.Context) (string, error) {
	var payload struct {
		User struct {
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := c.rest.getJSON(ctx, "/users/current.json", nil, &payload); err != nil {
		return "", err
	}
	return fmt.Sprintf("Redmine (user %s)", payload.User.Login), nil
}

func (c *RedmineClient) fetchOne(ctx context.Context, id int) (Issue, error) {
	params := url.Values{}
	params.Set("include", "journals")
	var payload struct {
		Issue redmineIssuePayload `json:"issue"`
	}
	path := fmt.Sprintf("/issues/%d.json", id)
	if err := c.rest.getJSON(ctx, path, params, &payload); err != nil {
		return Issue{}, err
	}
	return toRedmineIssue(payload.Issue), nil
}

func toRedmineIssue(raw redmineIssuePayload) Issue {
	comments := make([]Comment, 0, len(raw.Journals))
	for _, j := range raw.Journals {
		if j.Notes == "" {
			continue
		}
		comments = append(comments, Comment{
			Author:  j.User.Name,
			Text:    j.Notes,
			Created: j.CreatedOn,
		})
	}
	updated, _ := time.Parse(time.RFC3339, raw.UpdatedOn)
	return Issue{
		Kind:        KindRedmine,
		Key:         strconv.Itoa(raw.ID),
		Summary:     raw.Subject,
		Description: raw.Description,
		Status:      raw.Status.Name,
		Comments:    comments,
		Updated:     updated,
	}
}
