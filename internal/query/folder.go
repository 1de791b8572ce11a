package query

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"issuefs/internal/logging"
	"issuefs/internal/tracker"
)

var folderLogger = logging.GetLogger().WithPrefix("folder")

// State is the lifecycle state of a query folder.
type State int

const (
	// StateEmpty: just created, no config written yet.
	StateEmpty State = iota
	// StateParsed: config applied, not yet evaluated.
	StateParsed
	// StateIdle: disabled; serves cached/persisted data only.
	StateIdle
	// StateFetching: a refresh is in flight.
	StateFetching
	// StateReady: last refresh fully succeeded.
	StateReady
	// StateDegraded: some trackers failed, others succeeded.
	StateDegraded
	// StateFailed: every tracker failed; previous snapshot served stale.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateParsed:
		return "parsed"
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// fetchTimeout bounds every individual tracker call.
const fetchTimeout = 30 * time.Second

// Folder is one query folder: its configuration, lifecycle state and
// current snapshot. The snapshot is published through an atomic
// pointer so filesystem reads never take the folder lock.
type Folder struct {
	name    string
	clients map[tracker.Kind]tracker.Client
	store   Store
	log     *logging.Logger

	mu         sync.Mutex
	state      State
	cfg        *Config
	cfgErr     error
	lastErrors map[tracker.Kind]string

	snap atomic.Pointer[Snapshot]

	refreshCh chan struct{}
	closeCh   chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

func newFolder(name string, clients map[tracker.Kind]tracker.Client, store Store) *Folder {
	f := &Folder{
		name:      name,
		clients:   clients,
		store:     store,
		log:       folderLogger.WithFields(map[string]interface{}{"folder": name}),
		state:     StateEmpty,
		cfg:       DefaultConfig(),
		refreshCh: make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	f.snap.Store(EmptySnapshot())
	go f.worker()
	return f
}

// Name returns the folder name.
func (f *Folder) Name() string { return f.name }

// State returns the current lifecycle state.
func (f *Folder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Config returns the applied configuration and any attached config
// error. The returned config must not be mutated.
func (f *Folder) Config() (*Config, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cfg, f.cfgErr
}

// Snapshot returns the currently published snapshot. Never nil.
func (f *Folder) Snapshot() *Snapshot {
	return f.snap.Load()
}

// Errors returns the per-tracker failure messages of the last
// completed refresh. Unlike the published snapshot's error map, this
// survives a fully-failed refresh whose result was never swapped in,
// so diagnostics can name the failing tracker.
func (f *Folder) Errors() map[tracker.Kind]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[tracker.Kind]string, len(f.lastErrors))
	for kind, msg := range f.lastErrors {
		out[kind] = msg
	}
	return out
}

// ApplyConfig atomically replaces the folder configuration from a full
// config.yaml buffer and re-evaluates the lifecycle. Parse failures
// keep the previous configuration and attach the error.
func (f *Folder) ApplyConfig(data []byte) error {
	cfg, err := ParseConfig(data)

	f.mu.Lock()
	if err != nil {
		f.cfgErr = err
		f.state = StateParsed
		f.mu.Unlock()
		f.log.Warn("config rejected: %v", err)
		return err
	}
	f.cfg = cfg
	f.cfgErr = nil
	f.state = StateParsed
	enabled := cfg.Enabled
	f.mu.Unlock()

	f.log.Info("config applied (enabled=%v persistent=%v)", cfg.Enabled, cfg.Persistent)

	if enabled {
		f.TriggerRefresh()
	} else {
		f.mu.Lock()
		if f.state == StateParsed {
			f.state = StateIdle
		}
		f.mu.Unlock()
	}
	return nil
}

// SeedSnapshot installs a persisted snapshot, but only while no live
// fetch has published anything yet. Used to make persistent folders
// browsable before the first network round trip completes.
func (f *Folder) SeedSnapshot(snap *Snapshot) {
	if snap == nil {
		return
	}
	current := f.snap.Load()
	if current.FetchedAt.IsZero() && len(current.Files) == 0 {
		f.snap.CompareAndSwap(current, snap)
		f.log.Debug("seeded %d issues from persisted snapshot", len(snap.Files))
	}
}

// TriggerRefresh requests a background refresh. Requests arriving
// while one is already queued or running are coalesced; the folder
// never has more than one fetch in flight.
func (f *Folder) TriggerRefresh() {
	select {
	case f.refreshCh <- struct{}{}:
	default:
	}
}

// MaybeRefresh triggers a refresh if the folder is enabled and its
// snapshot is older than the configured threshold. Called from
// readdir/read paths; never blocks.
func (f *Folder) MaybeRefresh() {
	f.mu.Lock()
	enabled := f.cfg.Enabled
	interval := f.cfg.RefreshInterval()
	fetching := f.state == StateFetching
	f.mu.Unlock()

	if !enabled || fetching {
		return
	}
	if f.Snapshot().Age() >= interval {
		f.TriggerRefresh()
	}
}

// Close stops the folder's worker. An in-flight fetch is left to
// finish; its result is discarded since nothing observes it anymore.
func (f *Folder) Close() {
	f.closeOnce.Do(func() {
		close(f.closeCh)
	})
}

// Done is closed once the worker goroutine has exited.
func (f *Folder) Done() <-chan struct{} {
	return f.doneCh
}

func (f *Folder) worker() {
	defer close(f.doneCh)
	for {
		select {
		case <-f.closeCh:
			return
		case <-f.refreshCh:
			f.runRefresh()
		}
	}
}

func (f *Folder) runRefresh() {
	f.mu.Lock()
	if !f.cfg.Enabled {
		f.mu.Unlock()
		return
	}
	cfg := f.cfg
	specs, err := cfg.fetchSpecs(f.clients)
	if err != nil {
		f.cfgErr = err
		f.state = StateParsed
		f.mu.Unlock()
		f.log.Warn("refresh skipped: %v", err)
		return
	}
	f.state = StateFetching
	f.mu.Unlock()

	f.log.Debug("refresh started (%d tracker calls)", len(specs))
	results := f.fanOut(specs)

	select {
	case <-f.closeCh:
		// Folder was removed while fetching; drop the result.
		f.log.Debug("refresh result discarded, folder closed")
		return
	default:
	}

	prev := f.snap.Load()
	next := mergeSnapshots(prev, results)

	allFailed := len(specs) > 0 && len(results) == countErrors(results)
	f.mu.Lock()
	f.lastErrors = next.Errors
	switch {
	case allFailed:
		// Keep serving the previous snapshot; its age keeps growing so
		// later reads retry.
		f.state = StateFailed
	case next.Degraded():
		f.snap.Store(next)
		f.state = StateDegraded
	default:
		f.snap.Store(next)
		f.state = StateReady
	}
	state := f.state
	persistent := cfg.Persistent
	f.mu.Unlock()

	f.log.Info("refresh finished: state=%s files=%d errors=%d",
		state, len(next.Files), len(next.Errors))

	if persistent && !allFailed && f.store != nil {
		if err := f.store.Save(f.name, next); err != nil {
			f.log.Error("persist failed: %v", err)
		}
	}
}

func (f *Folder) fanOut(specs []fetchSpec) []mergeResult {
	results := make([]mergeResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec fetchSpec) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
			defer cancel()

			client := f.clients[spec.kind]
			var issues []tracker.Issue
			var err error
			if spec.explicit {
				issues, err = client.FetchByIDs(ctx, spec.ids)
			} else {
				issues, err = client.Search(ctx, spec.query)
			}
			if err != nil {
				f.log.Warn("%s call failed: %v", spec.kind, err)
			}
			results[i] = mergeResult{spec: spec, issues: issues, err: err}
		}(i, spec)
	}
	wg.Wait()
	return results
}

func countErrors(results []mergeResult) int {
	n := 0
	for _, res := range results {
		if res.err != nil {
			n++
		}
	}
	return n
}
