package query

import (
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"issuefs/internal/tracker"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory query.Store for manager tests.
type fakeStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{snaps: map[string]*Snapshot{}}
}

func (s *fakeStore) Save(folder string, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[folder] = snap
	return nil
}

func (s *fakeStore) Load(folder string) (*Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[folder]
	return snap, ok, nil
}

func (s *fakeStore) Delete(folder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, folder)
	return nil
}

func (s *fakeStore) Folders() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.snaps))
	for name := range s.snaps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func newTestManager(t *testing.T, store Store) *Manager {
	t.Helper()
	jira := &fakeClient{kind: tracker.KindJira, version: "Jira 9.4.0"}
	m := NewManager(map[tracker.Kind]tracker.Client{tracker.KindJira: jira}, store)
	t.Cleanup(m.Close)
	return m
}

func TestManagerFolderLifecycle(t *testing.T) {
	m := newTestManager(t, nil)

	_, err := m.CreateFolder("bugs")
	require.NoError(t, err)
	_, err = m.CreateFolder("bugs")
	require.ErrorIs(t, err, ErrFolderExists)

	_, err = m.CreateFolder("features")
	require.NoError(t, err)
	require.Equal(t, []string{"bugs", "features"}, m.Names())

	require.NoError(t, m.RemoveFolder("features"))
	require.ErrorIs(t, m.RemoveFolder("features"), ErrFolderNotFound)
	require.Equal(t, []string{"bugs"}, m.Names())

	_, ok := m.Folder("bugs")
	require.True(t, ok)
	_, ok = m.Folder("features")
	require.False(t, ok)
}

func TestManagerRenameIsRemovePlusCreate(t *testing.T) {
	m := newTestManager(t, nil)

	f, err := m.CreateFolder("old")
	require.NoError(t, err)
	require.NoError(t, m.UpdateConfig("old", []byte(enabledJiraConfig)))

	require.NoError(t, m.RenameFolder("old", "new"))
	require.Equal(t, []string{"new"}, m.Names())

	// The old folder object is closed and the new one starts over.
	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("renamed-away folder worker did not stop")
	}
	renamed, ok := m.Folder("new")
	require.True(t, ok)
	cfg, _ := renamed.Config()
	require.False(t, cfg.Enabled)
}

func TestManagerRenameRejectsExistingTarget(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.CreateFolder("a")
	require.NoError(t, err)
	_, err = m.CreateFolder("b")
	require.NoError(t, err)

	require.ErrorIs(t, m.RenameFolder("a", "b"), ErrFolderExists)
	require.Equal(t, []string{"a", "b"}, m.Names())
}

func seedSnapshotFor(t *testing.T, store Store, folder string) {
	t.Helper()
	seed := EmptySnapshot()
	seed.FetchedAt = time.Now().Add(-time.Hour)
	seed.Files["JIRA-ABC-1.txt"] = tracker.Issue{Kind: tracker.KindJira, Key: "ABC-1"}
	require.NoError(t, store.Save(folder, seed))
}

func TestManagerRestoresPersistedFoldersOnMount(t *testing.T) {
	store := newFakeStore()
	seedSnapshotFor(t, store, "bugs")

	// The persisted folder reappears without any mkdir, browsable from
	// the stored snapshot, disabled until the user configures it again.
	m := newTestManager(t, store)
	require.Equal(t, []string{"bugs"}, m.Names())

	f, ok := m.Folder("bugs")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return len(f.Snapshot().Files) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"JIRA-ABC-1.txt"}, f.Snapshot().Names())

	cfg, _ := f.Config()
	require.False(t, cfg.Enabled)
}

func TestManagerPreloadsSnapshotOnRecreate(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(t, store)

	// Persisted data written after mount is picked up when a folder of
	// the same name is created.
	seedSnapshotFor(t, store, "bugs")
	f, err := m.CreateFolder("bugs")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(f.Snapshot().Files) == 1
	}, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, []string{"JIRA-ABC-1.txt"}, f.Snapshot().Names())
}

func TestManagerCloseWaitsForVersionRefresh(t *testing.T) {
	jira := &fakeClient{kind: tracker.KindJira, version: "Jira 9.4.0", versionDelay: 50 * time.Millisecond}
	m := NewManager(map[tracker.Kind]tracker.Client{tracker.KindJira: jira}, nil)

	// Kick off the background version check, then close immediately;
	// Close must join the in-flight check before returning.
	m.VersionText()
	m.Close()
	require.Contains(t, m.versionText, "Jira 9.4.0")
}

func TestManagerVersionTextNamesFailedTracker(t *testing.T) {
	jira := &fakeClient{kind: tracker.KindJira}
	jira.set([]tracker.Issue{{Kind: tracker.KindJira, Key: "ABC-1"}}, nil)
	m := NewManager(map[tracker.Kind]tracker.Client{tracker.KindJira: jira}, nil)
	t.Cleanup(m.Close)

	f, err := m.CreateFolder("bugs")
	require.NoError(t, err)
	require.NoError(t, m.UpdateConfig("bugs", []byte(enabledJiraConfig)))
	waitForState(t, f, StateReady)

	jira.set(nil, pkgerrors.New("auth expired"))
	f.TriggerRefresh()
	waitForState(t, f, StateFailed)

	// Even though the published snapshot still shows the last good
	// data, the diagnostics name the failing tracker and cause.
	text := m.renderVersionText(map[tracker.Kind]string{}, map[tracker.Kind]string{})
	require.Contains(t, text, "bugs: state=failed issues=1")
	require.Contains(t, text, "Jira error:")
	require.Contains(t, text, "auth expired")
}

func TestManagerVersionText(t *testing.T) {
	m := newTestManager(t, nil)
	_, err := m.CreateFolder("bugs")
	require.NoError(t, err)

	// First read may serve the placeholder while the background check
	// runs; eventually the cached report carries the real version.
	require.Eventually(t, func() bool {
		return strings.Contains(m.VersionText(), "Jira 9.4.0")
	}, 5*time.Second, 10*time.Millisecond)

	text := m.VersionText()
	require.Contains(t, text, "Tracker Server Information")
	require.Contains(t, text, "bugs: state=")
}
