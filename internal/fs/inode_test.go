package fs

import "testing"

func TestInodeTableStable(t *testing.T) {
	tab := NewInodeTable()

	first := tab.Get("/bugs")
	if again := tab.Get("/bugs"); again != first {
		t.Errorf("Inode changed between gets: %d != %d", again, first)
	}
	if other := tab.Get("/features"); other == first {
		t.Error("Distinct paths must not share an inode")
	}
}

func TestInodeTableForgetSweepsChildren(t *testing.T) {
	tab := NewInodeTable()

	dir := tab.Get("/bugs")
	cfg := tab.Get("/bugs/" + ConfigFileName)
	issue := tab.Get("/bugs/JIRA-ABC-1.txt")
	sibling := tab.Get("/bugsy")

	tab.Forget("/bugs")

	// The folder and everything beneath it get fresh identities.
	if tab.Get("/bugs") == dir {
		t.Error("Forgotten folder must not reuse its inode")
	}
	if tab.Get("/bugs/"+ConfigFileName) == cfg {
		t.Error("Forgotten folder's config must not reuse its inode")
	}
	if tab.Get("/bugs/JIRA-ABC-1.txt") == issue {
		t.Error("Forgotten folder's issue file must not reuse its inode")
	}

	// A sibling sharing the name prefix is untouched.
	if tab.Get("/bugsy") != sibling {
		t.Error("Sibling folder lost its inode on an unrelated forget")
	}
}
