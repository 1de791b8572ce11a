package query

import (
	"sort"
	"time"

	"issuefs/internal/tracker"
)

// Snapshot is the materialized result of one refresh of a query
// folder: synthetic filename -> issue, plus per-tracker error flags.
// A Snapshot is immutable after publication; the folder swaps in a new
// one atomically so readers never observe a partially merged state.
type Snapshot struct {
	Files     map[string]tracker.Issue
	FetchedAt time.Time
	Errors    map[tracker.Kind]string
}

// EmptySnapshot returns a snapshot with no issues and a zero fetch
// time, so a fresh folder is immediately considered stale.
func EmptySnapshot() *Snapshot {
	return &Snapshot{
		Files:  map[string]tracker.Issue{},
		Errors: map[tracker.Kind]string{},
	}
}

// Age reports the time elapsed since the snapshot was assembled.
func (s *Snapshot) Age() time.Duration {
	if s.FetchedAt.IsZero() {
		return time.Duration(1<<62 - 1)
	}
	return time.Since(s.FetchedAt)
}

// Names returns the sorted synthetic filenames of the snapshot.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Files))
	for name := range s.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the issue behind a synthetic filename.
func (s *Snapshot) Lookup(name string) (tracker.Issue, bool) {
	issue, ok := s.Files[name]
	return issue, ok
}

// Degraded reports whether some tracker failed on the last refresh.
func (s *Snapshot) Degraded() bool {
	return len(s.Errors) > 0
}

// mergeResult is the outcome of one fetchSpec call.
type mergeResult struct {
	spec   fetchSpec
	issues []tracker.Issue
	err    error
}

// mergeSnapshots unions the per-call results into a new snapshot.
//
// Dedup key is (tracker kind, native key). Records fetched through an
// explicit id list win over records returned by queries; among query
// results the last merged record wins. Trackers whose calls all failed
// keep their previous entries (stale beats absent) and are flagged in
// the error map.
func mergeSnapshots(prev *Snapshot, results []mergeResult) *Snapshot {
	next := &Snapshot{
		Files:     make(map[string]tracker.Issue),
		FetchedAt: time.Now(),
		Errors:    map[tracker.Kind]string{},
	}

	succeeded := map[tracker.Kind]bool{}
	for _, res := range results {
		if res.err != nil {
			if _, have := next.Errors[res.spec.kind]; !have {
				next.Errors[res.spec.kind] = res.err.Error()
			}
			continue
		}
		succeeded[res.spec.kind] = true
		for _, issue := range res.issues {
			name := issue.Filename()
			if existing, ok := next.Files[name]; ok && existing.FromExplicitID && !issue.FromExplicitID {
				continue
			}
			next.Files[name] = issue
		}
	}

	// Retain the previous entries of trackers whose calls all failed.
	// Trackers with a partial success keep their flag but contribute
	// the fresh results only.
	if prev != nil {
		for name, issue := range prev.Files {
			if _, failed := next.Errors[issue.Kind]; !failed || succeeded[issue.Kind] {
				continue
			}
			if _, ok := next.Files[name]; !ok {
				next.Files[name] = issue
			}
		}
	}

	return next
}
