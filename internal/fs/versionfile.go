package fs

import (
	"context"
	"os"
	"syscall"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

// VersionFile serves the aggregated tracker version and folder health
// report at the mount root. Content comes from the manager's cache, so
// reading it never blocks on the network.
type VersionFile struct {
	fs *IssueFS
}

// Attr implements the Node interface.
func (f *VersionFile) Attr(_ context.Context, a *fuse.Attr) error {
	a.Inode = f.fs.inodes.Get("/" + VersionFileName)
	a.Mode = 0444
	a.Size = uint64(len(f.fs.manager.VersionText()))
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.Mtime = f.fs.mounted
	return nil
}

// Open implements the NodeOpener interface, pinning the report text
// for the lifetime of the handle.
func (f *VersionFile) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	if flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 {
		return nil, syscall.EPERM
	}
	resp.Flags |= fuse.OpenDirectIO
	return &issueHandle{
		path:    "/" + VersionFileName,
		content: []byte(f.fs.manager.VersionText()),
	}, nil
}
