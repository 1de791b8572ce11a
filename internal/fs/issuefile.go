package fs

import (
	"context"
	"os"
	"syscall"

	"issuefs/internal/logging"
	"issuefs/internal/query"
	"issuefs/internal/tracker"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"bazil.org/fuse/fuseutil"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// IssueFile is one synthetic, read-only issue rendering. The content a
// reader sees is pinned when the file is opened, so a refresh swapping
// the snapshot mid-read cannot tear the text.
type IssueFile struct {
	fs     *IssueFS
	folder *query.Folder
	issue  tracker.Issue
}

func (f *IssueFile) path() string {
	return "/" + f.folder.Name() + "/" + f.issue.Filename()
}

// Attr implements the Node interface. Size is the exact rendered
// length; mtime is the issue's own update time.
func (f *IssueFile) Attr(_ context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for issue file %q", f.path())

	// Serve attributes for the freshest rendering of this issue.
	issue := f.currentIssue()
	content := issue.RenderText()

	a.Inode = f.fs.inodes.Get(f.path())
	a.Mode = 0444
	a.Size = uint64(len(content))
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	if !issue.Updated.IsZero() {
		a.Mtime = issue.Updated
		a.Ctime = issue.Updated
	} else {
		a.Mtime = f.fs.mounted
		a.Ctime = f.fs.mounted
	}
	return nil
}

// Open implements the NodeOpener interface. Write access is rejected;
// the handle captures the rendered content at open time.
func (f *IssueFile) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	flags := int(req.Flags)
	fileLogger.Debug("Opening issue file %q with flags %v", f.path(), flags)

	if flags&os.O_WRONLY != 0 || flags&os.O_RDWR != 0 {
		fileLogger.Warn("Attempted write access to issue file: %q", f.path())
		return nil, syscall.EPERM
	}

	resp.Flags |= fuse.OpenDirectIO
	return &issueHandle{
		path:    f.path(),
		content: []byte(f.currentIssue().RenderText()),
	}, nil
}

// currentIssue prefers the snapshot's present record over the one
// captured at lookup time, so attributes track refreshes.
func (f *IssueFile) currentIssue() tracker.Issue {
	if issue, ok := f.folder.Snapshot().Lookup(f.issue.Filename()); ok {
		return issue
	}
	return f.issue
}

// issueHandle serves reads from a fixed byte slice.
type issueHandle struct {
	path    string
	content []byte
}

// Read implements the HandleReader interface.
func (h *issueHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from %q at offset %d",
		req.Size, h.path, req.Offset)
	fuseutil.HandleRead(req, resp, h.content)
	return nil
}

// Release implements the HandleReleaser interface.
func (h *issueHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Trace("Closing issue file %q", h.path)
	return nil
}
