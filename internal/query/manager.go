package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"issuefs/internal/logging"
	"issuefs/internal/tracker"

	pkgerrors "github.com/pkg/errors"
)

var managerLogger = logging.GetLogger().WithPrefix("manager")

var (
	// ErrFolderExists is returned by CreateFolder for duplicate names.
	ErrFolderExists = pkgerrors.New("query folder already exists")
	// ErrFolderNotFound is returned for operations on unknown folders.
	ErrFolderNotFound = pkgerrors.New("query folder not found")
)

// Store is the durable snapshot storage the manager and folders use
// for persistent folders. Implemented by internal/persist.
type Store interface {
	Save(folder string, snap *Snapshot) error
	Load(folder string) (*Snapshot, bool, error)
	Delete(folder string) error
	Folders() ([]string, error)
}

// versionStaleness bounds how long the aggregated version.txt content
// is served before a lazy background re-check.
const versionStaleness = 5 * time.Minute

// folderEvent flows from filesystem mkdir into the manager's event
// loop, which performs the slow parts of folder creation (persisted
// snapshot preload) off the protocol path.
type folderEvent struct {
	name   string
	folder *Folder
}

// Manager owns the name -> folder map of the mount root and the
// shared tracker clients.
type Manager struct {
	mu      sync.RWMutex
	folders map[string]*Folder

	clients map[tracker.Kind]tracker.Client
	store   Store
	log     *logging.Logger

	events    chan folderEvent
	closeCh   chan struct{}
	closeOnce sync.Once
	loopDone  chan struct{}

	versionMu       sync.Mutex
	versionText     string
	versionAt       time.Time
	versionFetching bool
	versionWG       sync.WaitGroup
}

// NewManager creates a manager over the given tracker clients and an
// optional snapshot store (nil disables persistence).
func NewManager(clients map[tracker.Kind]tracker.Client, store Store) *Manager {
	m := &Manager{
		folders:  map[string]*Folder{},
		clients:  clients,
		store:    store,
		log:      managerLogger,
		events:   make(chan folderEvent, 16),
		closeCh:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go m.eventLoop()
	if store != nil {
		m.restorePersisted()
	}
	return m
}

// restorePersisted recreates a folder for every persisted snapshot so
// the tree is browsable right after mount, before any mkdir. Restored
// folders start with the default disabled config; their content comes
// from the store until the user enables them again.
func (m *Manager) restorePersisted() {
	names, err := m.store.Folders()
	if err != nil {
		m.log.Warn("could not list persisted folders: %v", err)
		return
	}
	for _, name := range names {
		if _, err := m.CreateFolder(name); err != nil {
			m.log.Warn("could not restore folder %q: %v", name, err)
		}
	}
}

// eventLoop consumes folder-created events: it preloads persisted
// snapshots so matching folders are browsable before any fetch.
func (m *Manager) eventLoop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.closeCh:
			return
		case ev := <-m.events:
			if m.store == nil {
				continue
			}
			snap, ok, err := m.store.Load(ev.name)
			if err != nil {
				m.log.Warn("persisted snapshot for %q unreadable: %v", ev.name, err)
				continue
			}
			if ok {
				ev.folder.SeedSnapshot(snap)
			}
		}
	}
}

// CreateFolder registers a new, unconfigured query folder. The folder
// is immediately visible; persisted data is loaded asynchronously.
func (m *Manager) CreateFolder(name string) (*Folder, error) {
	m.mu.Lock()
	if _, ok := m.folders[name]; ok {
		m.mu.Unlock()
		return nil, ErrFolderExists
	}
	f := newFolder(name, m.clients, m.store)
	m.folders[name] = f
	m.mu.Unlock()

	m.log.Info("created query folder %q", name)
	select {
	case m.events <- folderEvent{name: name, folder: f}:
	case <-m.closeCh:
	}
	return f, nil
}

// RemoveFolder tears a folder down. The in-memory snapshot is
// discarded; a persisted copy, if any, is left untouched.
func (m *Manager) RemoveFolder(name string) error {
	m.mu.Lock()
	f, ok := m.folders[name]
	if !ok {
		m.mu.Unlock()
		return ErrFolderNotFound
	}
	delete(m.folders, name)
	m.mu.Unlock()

	f.Close()
	m.log.Info("removed query folder %q", name)
	return nil
}

// RenameFolder moves a folder to a new name, treated as remove+create:
// the new folder starts unconfigured and the old in-memory snapshot is
// dropped.
func (m *Manager) RenameFolder(oldName, newName string) error {
	m.mu.RLock()
	_, exists := m.folders[newName]
	m.mu.RUnlock()
	if exists {
		return ErrFolderExists
	}
	if err := m.RemoveFolder(oldName); err != nil {
		return err
	}
	_, err := m.CreateFolder(newName)
	return err
}

// Folder looks up a folder by name.
func (m *Manager) Folder(name string) (*Folder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.folders[name]
	return f, ok
}

// Names returns the sorted folder names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.folders))
	for name := range m.folders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// UpdateConfig applies a complete config.yaml buffer to a folder.
func (m *Manager) UpdateConfig(name string, data []byte) error {
	f, ok := m.Folder(name)
	if !ok {
		return ErrFolderNotFound
	}
	return f.ApplyConfig(data)
}

// Close stops all folders and the event loop, waiting for background
// workers so pending persistence writes complete before unmount.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
	<-m.loopDone
	m.versionWG.Wait()

	m.mu.Lock()
	folders := make([]*Folder, 0, len(m.folders))
	for _, f := range m.folders {
		folders = append(folders, f)
	}
	m.mu.Unlock()

	for _, f := range folders {
		f.Close()
	}
	for _, f := range folders {
		<-f.Done()
	}
}

// VersionText returns the aggregated tracker version/health report
// served as version.txt. The cached text is returned immediately; a
// background re-check runs when it goes stale.
func (m *Manager) VersionText() string {
	m.versionMu.Lock()
	text := m.versionText
	stale := text == "" || time.Since(m.versionAt) > versionStaleness
	if stale && !m.versionFetching {
		m.versionFetching = true
		m.versionWG.Add(1)
		go func() {
			defer m.versionWG.Done()
			m.refreshVersions()
		}()
	}
	m.versionMu.Unlock()

	if text == "" {
		return m.renderVersionText(map[tracker.Kind]string{}, map[tracker.Kind]string{})
	}
	return text
}

func (m *Manager) refreshVersions() {
	versions := map[tracker.Kind]string{}
	failures := map[tracker.Kind]string{}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for kind, client := range m.clients {
		wg.Add(1)
		go func(kind tracker.Kind, client tracker.Client) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			version, err := client.Version(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[kind] = err.Error()
				return
			}
			versions[kind] = version
		}(kind, client)
	}
	wg.Wait()

	text := m.renderVersionText(versions, failures)

	m.versionMu.Lock()
	m.versionText = text
	m.versionAt = time.Now()
	m.versionFetching = false
	m.versionMu.Unlock()
}

func (m *Manager) renderVersionText(versions, failures map[tracker.Kind]string) string {
	var b strings.Builder
	b.WriteString("Tracker Server Information\n")
	b.WriteString(strings.Repeat("=", 40))
	b.WriteString("\n")

	kinds := make([]tracker.Kind, 0, len(m.clients))
	for kind := range m.clients {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	if len(kinds) == 0 {
		b.WriteString("No trackers configured.\n")
	}
	for _, kind := range kinds {
		if version, ok := versions[kind]; ok {
			fmt.Fprintf(&b, "%s: %s\n", kind.Title(), version)
		} else if failure, ok := failures[kind]; ok {
			fmt.Fprintf(&b, "%s: unreachable (%s)\n", kind.Title(), failure)
		} else {
			fmt.Fprintf(&b, "%s: checking...\n", kind.Title())
		}
	}

	// Folder diagnostics: states and per-tracker fetch errors.
	names := m.Names()
	if len(names) > 0 {
		b.WriteString("\nQuery Folders\n")
		b.WriteString(strings.Repeat("=", 40))
		b.WriteString("\n")
		for _, name := range names {
			f, ok := m.Folder(name)
			if !ok {
				continue
			}
			snap := f.Snapshot()
			fmt.Fprintf(&b, "%s: state=%s issues=%d\n", name, f.State(), len(snap.Files))
			if _, cfgErr := f.Config(); cfgErr != nil {
				fmt.Fprintf(&b, "  config error: %v\n", cfgErr)
			}
			// Folder.Errors carries the last refresh's failures even
			// when the refresh published nothing (all trackers down).
			fetchErrs := f.Errors()
			errKinds := make([]tracker.Kind, 0, len(fetchErrs))
			for kind := range fetchErrs {
				errKinds = append(errKinds, kind)
			}
			sort.Slice(errKinds, func(i, j int) bool { return errKinds[i] < errKinds[j] })
			for _, kind := range errKinds {
				fmt.Fprintf(&b, "  %s error: %s\n", kind.Title(), fetchErrs[kind])
			}
		}
	}
	return b.String()
}
