// Package tracker defines the uniform client capability issuefs expects
// from every ticket tracker backend, plus the issue model shared by the
// fetch engine, the persistence layer and the filesystem nodes.
package tracker

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies one tracker backend variant.
type Kind string

const (
	KindJira     Kind = "jira"
	KindGitHub   Kind = "github"
	KindBugzilla Kind = "bugzilla"
	KindRedmine  Kind = "redmine"
)

// Prefix returns the filename prefix used for issue files of this kind.
// The prefix keeps keys from different trackers from colliding.
func (k Kind) Prefix() string {
	switch k {
	case KindJira:
		return "JIRA"
	case KindGitHub:
		return "GITHUB"
	case KindBugzilla:
		return "BUGZILLA"
	case KindRedmine:
		return "REDMINE"
	}
	return "UNKNOWN"
}

// Title returns the human-readable tracker name used in rendered text.
func (k Kind) Title() string {
	switch k {
	case KindJira:
		return "Jira"
	case KindGitHub:
		return "GitHub"
	case KindBugzilla:
		return "Bugzilla"
	case KindRedmine:
		return "Redmine"
	}
	return string(k)
}

// Comment is one comment attached to an issue.
type Comment struct {
	Author  string `json:"author"`
	Text    string `json:"text"`
	Created string `json:"created"`
}

func (c Comment) String() string {
	return fmt.Sprintf("Comment by %s on %s: %s", c.Author, c.Created, c.Text)
}

// Issue is one fetched issue. Key is the tracker-native identifier
// (e.g. "ABC-123" for Jira, "42" for GitHub/Bugzilla/Redmine).
type Issue struct {
	Kind        Kind      `json:"kind"`
	Key         string    `json:"key"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Status      string    `json:"status,omitempty"`
	Comments    []Comment `json:"comments,omitempty"`
	Updated     time.Time `json:"updated"`

	// FromExplicitID marks issues requested through an explicit id
	// list. Only used for union bookkeeping, never rendered.
	FromExplicitID bool `json:"-"`
}

// Client is the capability set every tracker backend implements.
// Implementations must be safe for concurrent use from multiple query
// folders and must retry rate-limit and transient network failures a
// bounded number of times before surfacing an *Error.
type Client interface {
	// Kind reports which tracker variant this client talks to.
	Kind() Kind

	// Search returns the issues matching a tracker-native query string.
	Search(ctx context.Context, query string) ([]Issue, error)

	// FetchByIDs returns the issues for an explicit id list. Ids that
	// do not resolve are omitted from the result, not an error.
	FetchByIDs(ctx context.Context, ids []string) ([]Issue, error)

	// Version returns a short server version/identity string.
	Version(ctx context.Context) (string, error)
}
