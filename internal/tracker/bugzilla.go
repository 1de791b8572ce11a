package tracker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// BugzillaClient talks to the Bugzilla REST API. The API key travels
// as a query parameter, not a header.
type BugzillaClient struct {
	rest   *restClient
	apiKey string
}

// NewBugzillaClient builds a client for the Bugzilla instance at baseURL.
func NewBugzillaClient(baseURL, apiKey string) *BugzillaClient {
	return &BugzillaClient{
		rest:   newRESTClient(KindBugzilla, baseURL, nil),
		apiKey: apiKey,
	}
}

func (c *BugzillaClient) Kind() Kind { return KindBugzilla }

type bugzillaBugPayload struct {
	ID             int    `json:"id"`
	Summary        string `json:"summary"`
	Status         string `json:"status"`
	LastChangeTime string `json:"last_change_time"`
}

// Search queries bugs whose summary matches the query term. The first
// comment of a bug is its description; the rest are regular comments.
func (c *BugzillaClient) Search(ctx context.Context, query string) ([]Issue, error) {
	params := c.params()
	params.Set("summary", query)
	params.Set("limit", "100")
	params.Set("order", "last_change_time DESC")

	var payload struct {
		Bugs []bugzillaBugPayload `json:"bugs"`
	}
	if err := c.rest.getJSON(ctx, "/rest/bug", params, &payload); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(payload.Bugs))
	for _, raw := range payload.Bugs {
		issue, err := c.assemble(ctx, raw)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// FetchByIDs fetches bugs by numeric id; non-numeric or unknown ids
// are skipped.
func (c *BugzillaClient) FetchByIDs(ctx context.Context, ids []string) ([]Issue, error) {
	issues := make([]Issue, 0, len(ids))
	for _, id := range ids {
		if _, err := strconv.Atoi(id); err != nil {
			restLogger.Warn("bugzilla: skipping non-numeric bug id %q", id)
			continue
		}
		params := c.params()
		params.Set("id", id)
		var payload struct {
			Bugs []bugzillaBugPayload `json:"bugs"`
		}
		if err := c.rest.getJSON(ctx, "/rest/bug", params, &payload); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		if len(payload.Bugs) == 0 {
			continue
		}
		issue, err := c.assemble(ctx, payload.Bugs[0])
		if err != nil {
			return nil, err
		}
		issue.FromExplicitID = true
		issues = append(issues, issue)
	}
	return issues, nil
}

// Version reads /rest/version.
func (c *BugzillaClient) Version(ctx context.Context) (string, error) {
	var payload struct {
		Version string `json:"version"`
	}
	if err := c.rest.getJSON(ctx, "/rest/version", c.params(), &payload); err != nil {
		return "", err
	}
	return fmt.Sprintf("Bugzilla %s", payload.Version), nil
}

func (c *BugzillaClient) assemble(ctx context.Context, raw bugzillaBugPayload) (Issue, error) {
	comments, err := c.fetchComments(ctx, raw.ID)
	if err != nil {
		return Issue{}, err
	}
	description := ""
	if len(comments) > 0 {
		// Comment 0 is the bug description in Bugzilla.
		description = comments[0].Text
		comments = comments[1:]
	}
	updated, _ := time.Parse("2006-01-02T15:04:05Z", raw.LastChangeTime)
	return Issue{
		Kind:        KindBugzilla,
		Key:         strconv.Itoa(raw.ID),
		Summary:     raw.Summary,
		Description: description,
		Status:      raw.Status,
		Comments:    comments,
		Updated:     updated,
	}, nil
}

func (c *BugzillaClient) fetchComments(ctx context.Context, id int) ([]Comment, error) {
	var payload struct {
		Bugs map[string]struct {
			Comments []struct {
				Creator      string `json:"creator"`
				Text         string `json:"text"`
				CreationTime string `json:"creation_time"`
			} `json:"comments"`
		} `json:"bugs"`
	}
	path := fmt.Sprintf("/rest/bug/%d/comment", id)
	if err := c.rest.getJSON(ctx, path, c.params(), &payload); err != nil {
		return nil, err
	}
	bug, ok := payload.Bugs[strconv.Itoa(id)]
	if !ok {
		return nil, nil
	}
	comments := make([]Comment, 0, len(bug.Comments))
	for _, raw := range bug.Comments {
		comments = append(comments, Comment{
			Author:  raw.Creator,
			Text:    raw.Text,
			Created: raw.CreationTime,
		})
	}
	return comments, nil
}

func (c *BugzillaClient) params() url.Values {
	params := url.Values{}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}
	return params
}
