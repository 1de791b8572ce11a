package fs

import (
	"context"
	"sync"
	"syscall"

	"issuefs/internal/logging"
	"issuefs/internal/query"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"bazil.org/fuse/fuseutil"
)

var (
	confLogger = logging.GetLogger().WithPrefix("conf")
)

// ConfigFile is the writable config.yaml of one query folder. Writes
// are buffered per write session and applied as one atomic
// configuration change on flush, so editors that truncate-then-write
// never expose a half-written config to the folder.
type ConfigFile struct {
	fs     *IssueFS
	folder *query.Folder

	mu     sync.Mutex
	staged []byte
	dirty  bool
}

func (f *ConfigFile) path() string {
	return "/" + f.folder.Name() + "/" + ConfigFileName
}

// rendered returns the YAML form of the currently applied config.
func (f *ConfigFile) rendered() []byte {
	cfg, _ := f.folder.Config()
	return cfg.Render()
}

// Attr implements the Node interface.
func (f *ConfigFile) Attr(_ context.Context, a *fuse.Attr) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	confLogger.Trace("Getting attributes for %q", f.path())

	content := f.rendered()
	if f.dirty {
		content = f.staged
	}

	a.Inode = f.fs.inodes.Get(f.path())
	a.Mode = 0644
	a.Size = uint64(len(content))
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.Mtime = f.fs.mounted
	return nil
}

// Open implements the NodeOpener interface. A writable open starts a
// staging session seeded with the current config.
func (f *ConfigFile) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	confLogger.Debug("Opening %q with flags %v", f.path(), req.Flags)

	writable := req.Flags.IsWriteOnly() || req.Flags.IsReadWrite()
	if writable {
		f.mu.Lock()
		if !f.dirty {
			f.staged = append([]byte(nil), f.rendered()...)
			f.dirty = true
		}
		f.mu.Unlock()
	}

	resp.Flags |= fuse.OpenDirectIO
	return &configHandle{file: f, writable: writable}, nil
}

// Setattr implements the NodeSetattrer interface; only size changes
// (truncation before a rewrite) are honored.
func (f *ConfigFile) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	if req.Valid&fuse.SetattrSize == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	confLogger.Debug("Truncating %q to %d bytes", f.path(), req.Size)

	if !f.dirty {
		f.staged = append([]byte(nil), f.rendered()...)
		f.dirty = true
	}
	size := int(req.Size)
	switch {
	case size <= len(f.staged):
		f.staged = f.staged[:size]
	default:
		f.staged = append(f.staged, make([]byte, size-len(f.staged))...)
	}

	resp.Attr.Size = req.Size
	resp.Attr.Mode = 0644
	return nil
}

// write appends data at the given offset of the staging buffer.
func (f *ConfigFile) write(offset int64, data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		f.staged = append([]byte(nil), f.rendered()...)
		f.dirty = true
	}

	end := int(offset) + len(data)
	if end > len(f.staged) {
		f.staged = append(f.staged, make([]byte, end-len(f.staged))...)
	}
	copy(f.staged[offset:end], data)
	return len(data)
}

// commit applies the staged buffer as the folder's new configuration.
// A rejected config is logged and surfaced through the folder's
// diagnostics; the write itself succeeds so editors do not error out.
func (f *ConfigFile) commit() {
	f.mu.Lock()
	if !f.dirty {
		f.mu.Unlock()
		return
	}
	staged := f.staged
	f.staged = nil
	f.dirty = false
	f.mu.Unlock()

	confLogger.Info("Applying %d byte config to folder %q", len(staged), f.folder.Name())
	if err := f.fs.manager.UpdateConfig(f.folder.Name(), staged); err != nil {
		confLogger.Warn("config for folder %q rejected: %v", f.folder.Name(), err)
	}
}

// content returns what a read should currently see.
func (f *ConfigFile) content() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dirty {
		return f.staged
	}
	return f.rendered()
}

// configHandle is one open config.yaml session.
type configHandle struct {
	file     *ConfigFile
	writable bool
}

// Read implements the HandleReader interface.
func (h *configHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	confLogger.Trace("Reading %d bytes from %q at offset %d",
		req.Size, h.file.path(), req.Offset)
	fuseutil.HandleRead(req, resp, h.file.content())
	return nil
}

// Write implements the HandleWriter interface.
func (h *configHandle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	if !h.writable {
		return syscall.EPERM
	}
	confLogger.Trace("Writing %d bytes to %q at offset %d",
		len(req.Data), h.file.path(), req.Offset)
	resp.Size = h.file.write(req.Offset, req.Data)
	return nil
}

// Flush implements the HandleFlusher interface, committing the staged
// config when the writer closes its descriptor.
func (h *configHandle) Flush(_ context.Context, _ *fuse.FlushRequest) error {
	if h.writable {
		h.file.commit()
	}
	return nil
}

// Release implements the HandleReleaser interface. A commit normally
// happened at flush time already; this covers kernels that release
// without flushing.
func (h *configHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	if h.writable {
		h.file.commit()
	}
	return nil
}
