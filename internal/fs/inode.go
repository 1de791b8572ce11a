package fs

import (
	"strings"
	"sync"
)

// InodeTable hands out stable inode numbers per virtual path. Numbers
// are monotonic and never reused, so a folder recreated under an old
// name gets a fresh identity.
type InodeTable struct {
	mu    sync.Mutex
	next  uint64
	paths map[string]uint64
}

// NewInodeTable creates an empty table. Inode 1 is reserved for the
// mount root.
func NewInodeTable() *InodeTable {
	return &InodeTable{
		next:  1,
		paths: map[string]uint64{},
	}
}

// Get returns the inode for a path, allocating one on first sight.
func (t *InodeTable) Get(path string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ino, ok := t.paths[path]; ok {
		return ino
	}
	ino := t.next
	t.next++
	t.paths[path] = ino
	return ino
}

// Forget drops the mapping for a path and everything beneath it, so a
// recreated folder and its children all get a fresh identity. The
// numbers themselves are retired.
func (t *InodeTable) Forget(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.paths, path)
	prefix := path + "/"
	for p := range t.paths {
		if strings.HasPrefix(p, prefix) {
			delete(t.paths, p)
		}
	}
}
