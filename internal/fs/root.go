package fs

import (
	"context"
	"os"
	"syscall"

	"issuefs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	rootLogger = logging.GetLogger().WithPrefix("root")
)

// RootDir is the mount root: version.txt plus one subdirectory per
// query folder. mkdir creates folders, rmdir removes them, rename
// renames them.
type RootDir struct {
	fs *IssueFS
}

// Attr implements the Node interface, returning root attributes.
func (d *RootDir) Attr(_ context.Context, a *fuse.Attr) error {
	rootLogger.Trace("Getting attributes for mount root")
	a.Inode = d.fs.inodes.Get("/")
	a.Mode = os.ModeDir | 0755
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	a.Mtime = d.fs.mounted
	return nil
}

// Lookup implements the NodeStringLookuper interface, resolving
// version.txt and folder names.
func (d *RootDir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	rootLogger.Debug("Looking up %q in mount root", name)

	if name == VersionFileName {
		return &VersionFile{fs: d.fs}, nil
	}

	if folder, ok := d.fs.manager.Folder(name); ok {
		return &FolderDir{fs: d.fs, folder: folder}, nil
	}

	rootLogger.Trace("Name not found in root: %q", name)
	return nil, syscall.ENOENT
}

// ReadDirAll implements the HandleReadDirAller interface.
func (d *RootDir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	rootLogger.Debug("Reading mount root contents")

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
		{
			Inode: d.fs.inodes.Get("/" + VersionFileName),
			Name:  VersionFileName,
			Type:  fuse.DT_File,
		},
	}

	for _, name := range d.fs.manager.Names() {
		entries = append(entries, fuse.Dirent{
			Inode: d.fs.inodes.Get("/" + name),
			Name:  name,
			Type:  fuse.DT_Dir,
		})
	}

	rootLogger.Debug("Mount root contains %d entries", len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, creating a query folder.
func (d *RootDir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	rootLogger.Info("Creating query folder %q", req.Name)

	if req.Name == VersionFileName {
		return nil, syscall.EEXIST
	}

	folder, err := d.fs.manager.CreateFolder(req.Name)
	if err != nil {
		rootLogger.Warn("mkdir %q rejected: %v", req.Name, err)
		return nil, ToFuseError(NewFSError(OpMkdir, req.Name, err))
	}

	return &FolderDir{fs: d.fs, folder: folder}, nil
}

// Remove implements the NodeRemover interface. Query folders are
// removable even when non-empty since all their content is synthetic;
// version.txt is not removable.
func (d *RootDir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	rootLogger.Info("Removing %q from mount root (isDir=%v)", req.Name, req.Dir)

	if !req.Dir {
		rootLogger.Warn("Attempted to unlink root file %q", req.Name)
		return syscall.EPERM
	}

	if err := d.fs.manager.RemoveFolder(req.Name); err != nil {
		rootLogger.Warn("rmdir %q rejected: %v", req.Name, err)
		return ToFuseError(NewFSError(OpRemove, req.Name, err))
	}

	d.fs.inodes.Forget("/" + req.Name)
	return nil
}

// Rename implements the NodeRenamer interface. The folder namespace is
// flat, so the target must be the root itself; the renamed folder
// starts over as an unconfigured one.
func (d *RootDir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	rootLogger.Info("Renaming folder %q to %q", req.OldName, req.NewName)

	if _, ok := newDir.(*RootDir); !ok {
		rootLogger.Warn("Rename target is not the mount root")
		return syscall.EPERM
	}
	if req.OldName == VersionFileName || req.NewName == VersionFileName {
		return syscall.EPERM
	}

	if err := d.fs.manager.RenameFolder(req.OldName, req.NewName); err != nil {
		rootLogger.Warn("rename %q -> %q rejected: %v", req.OldName, req.NewName, err)
		return ToFuseError(NewFSError(OpRename, req.OldName, err))
	}

	d.fs.inodes.Forget("/" + req.OldName)
	return nil
}
