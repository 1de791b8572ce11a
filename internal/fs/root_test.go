package fs

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"issuefs/internal/query"
	"issuefs/internal/tracker"

	"bazil.org/fuse"
)

// stubClient serves canned issues so filesystem tests never touch the
// network.
type stubClient struct {
	kind   tracker.Kind
	mu     sync.Mutex
	issues []tracker.Issue
}

func (c *stubClient) Kind() tracker.Kind { return c.kind }

func (c *stubClient) Search(_ context.Context, _ string) ([]tracker.Issue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]tracker.Issue(nil), c.issues...), nil
}

func (c *stubClient) FetchByIDs(_ context.Context, ids []string) ([]tracker.Issue, error) {
	issues := make([]tracker.Issue, 0, len(ids))
	for _, id := range ids {
		issues = append(issues, tracker.Issue{
			Kind: c.kind, Key: id, Summary: "issue " + id, FromExplicitID: true,
		})
	}
	return issues, nil
}

func (c *stubClient) Version(_ context.Context) (string, error) {
	return string(c.kind) + " test server", nil
}

func setupTestFS(t *testing.T) (*IssueFS, *query.Manager, *stubClient) {
	t.Helper()

	jira := &stubClient{
		kind: tracker.KindJira,
		issues: []tracker.Issue{
			{Kind: tracker.KindJira, Key: "ABC-1", Summary: "First", Updated: time.Now()},
			{Kind: tracker.KindJira, Key: "ABC-2", Summary: "Second", Updated: time.Now()},
		},
	}

	manager := query.NewManager(map[tracker.Kind]tracker.Client{tracker.KindJira: jira}, nil)
	t.Cleanup(manager.Close)

	return NewIssueFS(manager), manager, jira
}

func waitForSnapshot(t *testing.T, folder *query.Folder, files int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(folder.Snapshot().Files) == files {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("folder never reached %d files (state=%s)", files, folder.State())
}

func TestRootOperations(t *testing.T) {
	ifs, manager, _ := setupTestFS(t)
	ctx := context.Background()

	root, err := ifs.Root()
	if err != nil {
		t.Fatalf("Failed to get root: %v", err)
	}
	dir, ok := root.(*RootDir)
	if !ok {
		t.Fatal("Root should be a RootDir")
	}

	t.Run("RootDirectory", func(t *testing.T) {
		attr := &fuse.Attr{}
		if err := dir.Attr(ctx, attr); err != nil {
			t.Errorf("Failed to get root attributes: %v", err)
		}
		if attr.Mode&os.ModeDir == 0 {
			t.Error("Root should be a directory")
		}

		entries, err := dir.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read root directory: %v", err)
		}
		foundVersion := false
		for _, entry := range entries {
			if entry.Name == VersionFileName {
				foundVersion = true
			}
		}
		if !foundVersion {
			t.Errorf("Root directory should contain %s", VersionFileName)
		}

		if _, err := dir.Lookup(ctx, VersionFileName); err != nil {
			t.Errorf("Failed to lookup %s: %v", VersionFileName, err)
		}
		if _, err := dir.Lookup(ctx, "nonexistent"); err == nil {
			t.Error("Lookup of unknown name should fail")
		}
	})

	t.Run("CreateFolder", func(t *testing.T) {
		node, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "bugs"})
		if err != nil {
			t.Fatalf("Failed to create folder: %v", err)
		}

		folderDir, ok := node.(*FolderDir)
		if !ok {
			t.Fatal("Mkdir should return a FolderDir")
		}

		// A fresh folder lists only config.yaml.
		entries, err := folderDir.ReadDirAll(ctx)
		if err != nil {
			t.Fatalf("Failed to read new folder: %v", err)
		}
		var names []string
		for _, entry := range entries {
			if entry.Name != "." && entry.Name != ".." {
				names = append(names, entry.Name)
			}
		}
		if len(names) != 1 || names[0] != ConfigFileName {
			t.Errorf("Fresh folder should list only %s, got %v", ConfigFileName, names)
		}

		// Duplicate names are rejected.
		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "bugs"}); err == nil {
			t.Error("Duplicate mkdir should fail")
		}
	})

	t.Run("RemoveFolder", func(t *testing.T) {
		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "todelete"}); err != nil {
			t.Fatalf("Failed to create folder: %v", err)
		}

		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "todelete", Dir: true}); err != nil {
			t.Fatalf("Failed to remove folder: %v", err)
		}
		if _, err := dir.Lookup(ctx, "todelete"); err == nil {
			t.Error("Folder should not exist after removal")
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "todelete", Dir: true}); err == nil {
			t.Error("Removing a missing folder should fail")
		}
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: VersionFileName, Dir: false}); err == nil {
			t.Errorf("%s should not be removable", VersionFileName)
		}
	})

	t.Run("RenameFolder", func(t *testing.T) {
		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "oldname"}); err != nil {
			t.Fatalf("Failed to create folder: %v", err)
		}

		req := &fuse.RenameRequest{OldName: "oldname", NewName: "newname"}
		if err := dir.Rename(ctx, req, dir); err != nil {
			t.Fatalf("Failed to rename folder: %v", err)
		}

		if _, err := dir.Lookup(ctx, "oldname"); err == nil {
			t.Error("Old folder name should not exist after rename")
		}
		if _, err := dir.Lookup(ctx, "newname"); err != nil {
			t.Errorf("New folder name should exist after rename: %v", err)
		}

		// The renamed folder starts over unconfigured.
		folder, ok := manager.Folder("newname")
		if !ok {
			t.Fatal("Renamed folder missing from manager")
		}
		cfg, _ := folder.Config()
		if cfg.Enabled {
			t.Error("Renamed folder should start disabled")
		}
	})

	t.Run("StableInodes", func(t *testing.T) {
		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "inodes"}); err != nil {
			t.Fatalf("Failed to create folder: %v", err)
		}
		first := ifs.inodes.Get("/inodes")
		if again := ifs.inodes.Get("/inodes"); again != first {
			t.Errorf("Inode changed between lookups: %d != %d", again, first)
		}

		// Recreating under the same name yields a fresh inode.
		if err := dir.Remove(ctx, &fuse.RemoveRequest{Name: "inodes", Dir: true}); err != nil {
			t.Fatalf("Failed to remove folder: %v", err)
		}
		if _, err := dir.Mkdir(ctx, &fuse.MkdirRequest{Name: "inodes"}); err != nil {
			t.Fatalf("Failed to recreate folder: %v", err)
		}
		if second := ifs.inodes.Get("/inodes"); second == first {
			t.Error("Recreated folder should not reuse the old inode")
		}
	})
}
