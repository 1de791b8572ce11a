package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// JiraClient talks to the Jira REST v2 API.
type JiraClient struct {
	rest *restClient
}

// NewJiraClient builds a client for the Jira instance at baseURL,
// authenticating with a bearer token.
func NewJiraClient(baseURL, token string) *JiraClient {
	return &JiraClient{
		rest: newRESTClient(KindJira, baseURL, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}),
	}
}

func (c *JiraClient) Kind() Kind { return KindJira }

type jiraIssuePayload struct {
	Key    string `json:"key"`
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Updated     string `json:"updated"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
	} `json:"fields"`
}

type jiraSearchPayload struct {
	Issues []jiraIssuePayload `json:"issues"`
}

type jiraCommentsPayload struct {
	Comments []struct {
		Author struct {
			DisplayName string `json:"displayName"`
		} `json:"author"`
		Body    string `json:"body"`
		Created string `json:"created"`
	} `json:"comments"`
}

// Search runs a JQL query and returns the matching issues with their
// comments attached.
func (c *JiraClient) Search(ctx context.Context, query string) ([]Issue, error) {
	params := url.Values{}
	params.Set("jql", query)
	params.Set("fields", "key,summary,description,status,updated")

	var payload jiraSearchPayload
	if err := c.rest.getJSON(ctx, "/rest/api/2/search", params, &payload); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(payload.Issues))
	for _, raw := range payload.Issues {
		issue := c.toIssue(raw)
		comments, err := c.fetchComments(ctx, raw.Key)
		if err != nil {
			return nil, err
		}
		issue.Comments = comments
		issues = append(issues, issue)
	}
	return issues, nil
}

// FetchByIDs fetches individual issues by key. Unknown keys are
// skipped rather than failing the whole call.
func (c *JiraClient) FetchByIDs(ctx context.Context, ids []string) ([]Issue, error) {
	issues := make([]Issue, 0, len(ids))
	for _, id := range ids {
		params := url.Values{}
		params.Set("fields", "key,summary,description,status,updated")
		var raw jiraIssuePayload
		err := c.rest.getJSON(ctx, "/rest/api/2/issue/"+url.PathEscape(id), params, &raw)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		issue := c.toIssue(raw)
		comments, err := c.fetchComments(ctx, raw.Key)
		if err != nil {
			return nil, err
		}
		issue.Comments = comments
		issue.FromExplicitID = true
		issues = append(issues, issue)
	}
	return issues, nil
}

// Version reads /serverInfo and formats a one-line identity string.
func (c *JiraClient) Version(ctx context.Context) (string, error) {
	var payload struct {
		Version     string `json:"version"`
		BuildNumber int    `json:"buildNumber"`
		ServerTitle string `json:"serverTitle"`
		BaseURL     string `json:"baseUrl"`
	}
	if err := c.rest.getJSON(ctx, "/rest/api/2/serverInfo", nil, &payload); err != nil {
		return "", err
	}
	title := payload.ServerTitle
	if title == "" {
		title = "Jira"
	}
	return fmt.Sprintf("%s %s (build %d)", title, payload.Version, payload.BuildNumber), nil
}

func (c *JiraClient) fetchComments(ctx context.Context, key string) ([]Comment, error) {
	var payload jiraCommentsPayload
	if err := c.rest.getJSON(ctx, "/rest/api/2/issue/"+url.PathEscape(key)+"/comment", nil, &payload); err != nil {
		return nil, err
	}
	comments := make([]Comment, 0, len(payload.Comments))
	for _, raw := range payload.Comments {
		comments = append(comments, Comment{
			Author:  raw.Author.DisplayName,
			Text:    raw.Body,
			Created: raw.Created,
		})
	}
	return comments, nil
}

func (c *JiraClient) toIssue(raw jiraIssuePayload) Issue {
	updated, _ := time.Parse("2006-01-02T15:04:05.000-0700", raw.Fields.Updated)
	return Issue{
		Kind:        KindJira,
		Key:         raw.Key,
		Summary:     raw.Fields.Summary,
		Description: raw.Fields.Description,
		Status:      raw.Fields.Status.Name,
		Updated:     updated,
	}
}
