// Package persist stores folder snapshots in a local badger database
// so persistent query folders are browsable across remounts, before
// any tracker has been contacted.
package persist

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"issuefs/internal/logging"
	"issuefs/internal/query"
	"issuefs/internal/tracker"

	badger "github.com/dgraph-io/badger/v4"
	pkgerrors "github.com/pkg/errors"
)

var storeLogger = logging.GetLogger().WithPrefix("persist")

// record is the on-disk shape of a snapshot. It carries the fetch time
// so a remounted folder starts with a truthful age.
type record struct {
	FetchedAt time.Time               `json:"fetched_at"`
	Issues    []tracker.Issue         `json:"issues"`
	Errors    map[tracker.Kind]string `json:"errors,omitempty"`
}

// Store is a badger-backed implementation of query.Store, keyed by
// folder name.
type Store struct {
	mu sync.Mutex
	db *badger.DB
	wg sync.WaitGroup
}

var _ query.Store = (*Store)(nil)

// Open opens (or creates) the snapshot database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "open snapshot db at %s", path)
	}
	return &Store{db: db}, nil
}

// Save writes the snapshot for a folder, replacing any previous copy.
func (s *Store) Save(folder string, snap *query.Snapshot) error {
	s.mu.Lock()
	db := s.db
	if db == nil {
		s.mu.Unlock()
		return pkgerrors.New("snapshot db is closed")
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	rec := record{
		FetchedAt: snap.FetchedAt,
		Issues:    make([]tracker.Issue, 0, len(snap.Files)),
		Errors:    snap.Errors,
	}
	for _, name := range snap.Names() {
		rec.Issues = append(rec.Issues, snap.Files[name])
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return pkgerrors.Wrap(err, "marshal snapshot")
	}

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(folder), data)
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "save snapshot for %s", folder)
	}
	storeLogger.Debug("saved %d issues for folder %q", len(rec.Issues), folder)
	return nil
}

// Load reads the persisted snapshot for a folder. A missing or corrupt
// record is reported as absent; corruption is logged, never fatal.
func (s *Store) Load(folder string) (*query.Snapshot, bool, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, false, pkgerrors.New("snapshot db is closed")
	}

	var data []byte
	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(folder))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, pkgerrors.Wrapf(err, "load snapshot for %s", folder)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		storeLogger.Warn("snapshot for %q is corrupt, ignoring: %v", folder, err)
		return nil, false, nil
	}

	snap := &query.Snapshot{
		Files:     make(map[string]tracker.Issue, len(rec.Issues)),
		FetchedAt: rec.FetchedAt,
		Errors:    rec.Errors,
	}
	if snap.Errors == nil {
		snap.Errors = map[tracker.Kind]string{}
	}
	for _, issue := range rec.Issues {
		snap.Files[issue.Filename()] = issue
	}
	return snap, true, nil
}

// Delete removes the persisted snapshot for a folder, if any.
func (s *Store) Delete(folder string) error {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return pkgerrors.New("snapshot db is closed")
	}

	err := db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(folder))
	})
	return pkgerrors.Wrapf(err, "delete snapshot for %s", folder)
}

// Folders lists the names of all folders with a persisted snapshot,
// sorted. Used to restore the folder tree at mount time.
func (s *Store) Folders() ([]string, error) {
	s.mu.Lock()
	db := s.db
	s.mu.Unlock()
	if db == nil {
		return nil, pkgerrors.New("snapshot db is closed")
	}

	var names []string
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			names = append(names, string(iter.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "list persisted folders")
	}
	sort.Strings(names)
	return names, nil
}

// Close waits for outstanding saves and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.mu.Unlock()
	if db == nil {
		return nil
	}

	s.wg.Wait()
	return db.Close()
}
