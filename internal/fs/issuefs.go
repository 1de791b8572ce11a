package fs

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"issuefs/internal/logging"
	"issuefs/internal/query"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	ifsLogger = logging.GetLogger().WithPrefix("ifs")
)

// VersionFileName is the diagnostics file served at the mount root.
const VersionFileName = "version.txt"

// ConfigFileName is the control file present in every query folder.
const ConfigFileName = "config.yaml"

// IssueFS is the FUSE filesystem over a query manager. All content is
// synthetic: directories are query folders, files are rendered issues.
type IssueFS struct {
	manager *query.Manager
	inodes  *InodeTable
	conn    *fuse.Conn
	uid     uint32
	gid     uint32
	mounted time.Time
}

// NewIssueFS creates a filesystem over the given manager.
func NewIssueFS(manager *query.Manager) *IssueFS {
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			ifsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			ifsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	return &IssueFS{
		manager: manager,
		inodes:  NewInodeTable(),
		uid:     uid,
		gid:     gid,
		mounted: time.Now(),
	}
}

// Root implements the fusefs.FS interface, returning the root
// directory node.
func (ifs *IssueFS) Root() (fusefs.Node, error) {
	ifsLogger.Trace("Getting root directory node")
	return &RootDir{fs: ifs}, nil
}

func waitForMount(mountPoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountPoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the filesystem and starts serving in the background.
func (ifs *IssueFS) Mount(mountPoint string) error {
	ifsLogger.Info("Mounting issue filesystem")
	ifsLogger.Debug("Mount point: %s", mountPoint)
	ifsLogger.Debug("UID: %d, GID: %d", ifs.uid, ifs.gid)

	mountOpts := []fuse.MountOption{
		fuse.FSName("issuefs"),
		fuse.Subtype("issuefs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
		fuse.AllowNonEmptyMount(),
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	ifs.conn = c

	go func() {
		if err := fusefs.Serve(c, ifs); err != nil {
			ifsLogger.Error("FUSE server error: %v", err)
		}
	}()

	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		ifsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	ifsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Unmount cleanly unmounts the filesystem. A busy mount point is
// retried a few times before giving up.
func (ifs *IssueFS) Unmount(mountPoint string) error {
	ifsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if ifs.conn == nil {
		return nil
	}

	var err error
	for tries := 0; tries < 10; tries++ {
		if err = fuse.Unmount(mountPoint); err == nil {
			ifsLogger.Info("Unmount completed successfully")
			return ifs.conn.Close()
		}
		ifsLogger.Debug("Unmount attempt failed: %v", err)
		time.Sleep(250 * time.Millisecond)
	}
	ifsLogger.Error("Unmount failed: %v", err)
	return err
}
