package query

import (
	"testing"
	"time"

	"issuefs/internal/tracker"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func jiraIssue(key string, explicit bool) tracker.Issue {
	return tracker.Issue{
		Kind:           tracker.KindJira,
		Key:            key,
		Summary:        "summary of " + key,
		FromExplicitID: explicit,
	}
}

func TestMergeSnapshotsDedupes(t *testing.T) {
	// A query matching ABC-1 and ABC-2 combined with an explicit
	// request for ABC-1 yields exactly two files.
	results := []mergeResult{
		{
			spec:   fetchSpec{kind: tracker.KindJira, query: "project = ABC"},
			issues: []tracker.Issue{jiraIssue("ABC-1", false), jiraIssue("ABC-2", false)},
		},
		{
			spec:   fetchSpec{kind: tracker.KindJira, explicit: true},
			issues: []tracker.Issue{jiraIssue("ABC-1", true)},
		},
	}

	snap := mergeSnapshots(EmptySnapshot(), results)
	require.Equal(t, []string{"JIRA-ABC-1.txt", "JIRA-ABC-2.txt"}, snap.Names())
	require.False(t, snap.Degraded())

	// The explicit record won the collision.
	issue, ok := snap.Lookup("JIRA-ABC-1.txt")
	require.True(t, ok)
	require.True(t, issue.FromExplicitID)
}

func TestMergeSnapshotsExplicitWinsRegardlessOfOrder(t *testing.T) {
	results := []mergeResult{
		{
			spec:   fetchSpec{kind: tracker.KindJira, explicit: true},
			issues: []tracker.Issue{jiraIssue("ABC-1", true)},
		},
		{
			spec:   fetchSpec{kind: tracker.KindJira, query: "project = ABC"},
			issues: []tracker.Issue{jiraIssue("ABC-1", false)},
		},
	}

	snap := mergeSnapshots(EmptySnapshot(), results)
	issue, ok := snap.Lookup("JIRA-ABC-1.txt")
	require.True(t, ok)
	require.True(t, issue.FromExplicitID)
}

func TestMergeSnapshotsRetainsEntriesOfFailedTracker(t *testing.T) {
	prev := EmptySnapshot()
	prev.FetchedAt = time.Now().Add(-time.Hour)
	prev.Files["JIRA-ABC-1.txt"] = jiraIssue("ABC-1", false)
	prev.Files["BUGZILLA-9.txt"] = tracker.Issue{Kind: tracker.KindBugzilla, Key: "9"}

	results := []mergeResult{
		{
			spec: fetchSpec{kind: tracker.KindJira, query: "project = ABC"},
			err:  pkgerrors.New("boom"),
		},
		{
			spec:   fetchSpec{kind: tracker.KindBugzilla, query: "panic"},
			issues: []tracker.Issue{{Kind: tracker.KindBugzilla, Key: "10"}},
		},
	}

	snap := mergeSnapshots(prev, results)
	require.True(t, snap.Degraded())
	require.Contains(t, snap.Errors, tracker.KindJira)

	// Jira entries are carried over stale; Bugzilla's old entry is not,
	// its fetch succeeded and no longer matches it.
	require.Equal(t, []string{"BUGZILLA-10.txt", "JIRA-ABC-1.txt"}, snap.Names())
}

func TestMergeSnapshotsPartialSuccessDropsStaleEntries(t *testing.T) {
	prev := EmptySnapshot()
	prev.Files["JIRA-OLD-1.txt"] = tracker.Issue{Kind: tracker.KindJira, Key: "OLD-1"}

	// One Jira call fails, another succeeds: the error is flagged but
	// the snapshot holds only fresh Jira data.
	results := []mergeResult{
		{
			spec: fetchSpec{kind: tracker.KindJira, query: "broken"},
			err:  pkgerrors.New("boom"),
		},
		{
			spec:   fetchSpec{kind: tracker.KindJira, query: "project = ABC"},
			issues: []tracker.Issue{jiraIssue("ABC-1", false)},
		},
	}

	snap := mergeSnapshots(prev, results)
	require.True(t, snap.Degraded())
	require.Equal(t, []string{"JIRA-ABC-1.txt"}, snap.Names())
}

func TestSnapshotAge(t *testing.T) {
	require.Greater(t, EmptySnapshot().Age(), 1000*time.Hour)

	snap := EmptySnapshot()
	snap.FetchedAt = time.Now().Add(-time.Minute)
	age := snap.Age()
	require.GreaterOrEqual(t, age, time.Minute)
	require.Less(t, age, 2*time.Minute)
}
