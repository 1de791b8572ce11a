package fs

import (
	"context"
	"os"
	"syscall"

	"issuefs/internal/logging"
	"issuefs/internal/query"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	folderLogger = logging.GetLogger().WithPrefix("dir")
)

// FolderDir is one query folder: config.yaml plus one synthetic file
// per issue in the folder's current snapshot. Listing the folder may
// kick off a background refresh; the listing itself never waits.
type FolderDir struct {
	fs     *IssueFS
	folder *query.Folder
}

func (d *FolderDir) path() string {
	return "/" + d.folder.Name()
}

// Attr implements the Node interface.
func (d *FolderDir) Attr(_ context.Context, a *fuse.Attr) error {
	folderLogger.Trace("Getting attributes for folder %q", d.folder.Name())
	a.Inode = d.fs.inodes.Get(d.path())
	a.Mode = os.ModeDir | 0755
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid

	snap := d.folder.Snapshot()
	if !snap.FetchedAt.IsZero() {
		a.Mtime = snap.FetchedAt
	} else {
		a.Mtime = d.fs.mounted
	}
	return nil
}

// Lookup implements the NodeStringLookuper interface, resolving
// config.yaml and issue filenames.
func (d *FolderDir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	folderLogger.Debug("Looking up %q in folder %q", name, d.folder.Name())

	if name == ConfigFileName {
		return &ConfigFile{fs: d.fs, folder: d.folder}, nil
	}

	snap := d.folder.Snapshot()
	if issue, ok := snap.Lookup(name); ok {
		return &IssueFile{fs: d.fs, folder: d.folder, issue: issue}, nil
	}

	folderLogger.Trace("Name not found in folder %q: %q", d.folder.Name(), name)
	return nil, syscall.ENOENT
}

// ReadDirAll implements the HandleReadDirAller interface. The listing
// is served from the current snapshot; when the snapshot has grown
// stale a refresh is triggered in the background.
func (d *FolderDir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	folderLogger.Debug("Reading folder contents: %q", d.folder.Name())

	d.folder.MaybeRefresh()

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
		{
			Inode: d.fs.inodes.Get(d.path() + "/" + ConfigFileName),
			Name:  ConfigFileName,
			Type:  fuse.DT_File,
		},
	}

	snap := d.folder.Snapshot()
	for _, name := range snap.Names() {
		entries = append(entries, fuse.Dirent{
			Inode: d.fs.inodes.Get(d.path() + "/" + name),
			Name:  name,
			Type:  fuse.DT_File,
		})
	}

	folderLogger.Debug("Folder %q contains %d entries (state=%s)",
		d.folder.Name(), len(entries), d.folder.State())
	return entries, nil
}
