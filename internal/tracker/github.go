package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// GitHubClient talks to the GitHub REST API (v3).
//
// GitHub queries always carry a repository scope. The query string
// passed to Search must contain a "repo:owner/repo" token (the config
// layer composes it); explicit ids use the form "owner/repo#123".
type GitHubClient struct {
	rest *restClient
}

// NewGitHubClient builds a client for the GitHub API at baseURL
// (normally https://api.github.com) with a personal access token.
func NewGitHubClient(baseURL, token string) *GitHubClient {
	return &GitHubClient{
		rest: newRESTClient(KindGitHub, baseURL, func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
			req.Header.Set("Accept", "application/vnd.github+json")
			req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
		}),
	}
}

func (c *GitHubClient) Kind() Kind { return KindGitHub }

type githubIssuePayload struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	UpdatedAt string `json:"updated_at"`
}

// Search runs a GitHub issue search. The repo scope is parsed back out
// of the query's "repo:" token so comments can be fetched.
func (c *GitHubClient) Search(ctx context.Context, query string) ([]Issue, error) {
	repo := repoFromQuery(query)
	if repo == "" {
		return nil, Errorf(KindGitHub, CodeBadQuery, "query %q has no repo: scope", query)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("per_page", "100")
	params.Set("sort", "updated")
	params.Set("order", "desc")

	var payload struct {
		Items []githubIssuePayload `json:"items"`
	}
	if err := c.rest.getJSON(ctx, "/search/issues", params, &payload); err != nil {
		return nil, err
	}

	issues := make([]Issue, 0, len(payload.Items))
	for _, raw := range payload.Items {
		issue := toGitHubIssue(raw)
		comments, err := c.fetchComments(ctx, repo, raw.Number)
		if err != nil {
			return nil, err
		}
		issue.Comments = comments
		issues = append(issues, issue)
	}
	return issues, nil
}

// FetchByIDs fetches issues given as "owner/repo#number". Malformed or
// unknown ids are skipped.
func (c *GitHubClient) FetchByIDs(ctx context.Context, ids []string) ([]Issue, error) {
	issues := make([]Issue, 0, len(ids))
	for _, id := range ids {
		repo, number, ok := splitGitHubID(id)
		if !ok {
			restLogger.Warn("github: skipping malformed issue id %q", id)
			continue
		}
		var raw githubIssuePayload
		path := fmt.Sprintf("/repos/%s/issues/%d", repo, number)
		if err := c.rest.getJSON(ctx, path, nil, &raw); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		issue := toGitHubIssue(raw)
		comments, err := c.fetchComments(ctx, repo, raw.Number)
		if err != nil {
			return nil, err
		}
		issue.Comments = comments
		issue.FromExplicitID = true
		issues = append(issues, issue)
	}
	return issues, nil
}

// Version checks authentication against /user and reports the API
// version together with the authenticated login.
func (c *GitHubClient) Version(ctx context.Context) (string, error) {
	var payload struct {
		Login string `json:"login"`
	}
	if err := c.rest.getJSON(ctx, "/user", nil, &payload); err != nil {
		return "", err
	}
	return fmt.Sprintf("GitHub API 2022-11-28 (user %s)", payload.Login), nil
}

func (c *GitHubClient) fetchComments(ctx context.Context, repo string, number int) ([]Comment, error) {
	var payload []struct {
		User struct {
			Login string `json:"login"`
		} `json:"user"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
	}
	path := fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number)
	if err := c.rest.getJSON(ctx, path, nil, &payload); err != nil {
		return nil, err
	}
	comments := make([]Comment, 0, len(payload))
	for _, raw := range payload {
		comments = append(comments, Comment{
			Author:  raw.User.Login,
			Text:    raw.Body,
			Created: raw.CreatedAt,
		})
	}
	return comments, nil
}

func toGitHubIssue(raw githubIssuePayload) Issue {
	updated, _ := time.Parse(time.RFC3339, raw.UpdatedAt)
	return Issue{
		Kind:        KindGitHub,
		Key:         strconv.Itoa(raw.Number),
		Summary:     raw.Title,
		Description: raw.Body,
		Status:      raw.State,
		Updated:     updated,
	}
}

func repoFromQuery(query string) string {
	for _, field := range strings.Fields(query) {
		if strings.HasPrefix(field, "repo:") {
			return strings.TrimPrefix(field, "repo:")
		}
	}
	return ""
}

func splitGitHubID(id string) (repo string, number int, ok bool) {
	parts := strings.SplitN(id, "#", 2)
	if len(parts) != 2 || !strings.Contains(parts[0], "/") {
		return "", 0, false
	}
	n, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, false
	}
	return parts[0], n, true
}
