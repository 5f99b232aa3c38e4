package tree

import (
	"errors"
	"strings"
	"testing"

	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/models"
)

// sample is the tree an archive with src/, src/a.js and readme.md imports to.
func sample() *Tree {
	return New([]*models.FileNode{
		models.NewFolder("src/", "src", "src",
			models.NewFile("src/a.js", "a.js", "src/a.js", models.StringPtr("x")),
		),
		models.NewFile("readme.md", "readme.md", "readme.md", models.StringPtr("y")),
	})
}

func TestFindByPath(t *testing.T) {
	tr := sample()
	tests := []struct {
		path  string
		found bool
	}{
		{"src", true},
		{"src/a.js", true},
		{"readme.md", true},
		{"/readme.md", false},
		{"nonexistent", false},
	}
	for _, tt := range tests {
		node := tr.FindByPath(tt.path)
		if (node != nil) != tt.found {
			t.Errorf("FindByPath(%q) found=%v, want %v", tt.path, node != nil, tt.found)
		}
		if node != nil && node.Path != tt.path {
			t.Errorf("FindByPath(%q).Path = %q", tt.path, node.Path)
		}
	}
}

func TestFindByID(t *testing.T) {
	tr := sample()
	if node := tr.FindByID("src/a.js"); node == nil || node.Name != "a.js" {
		t.Errorf("FindByID(src/a.js) failed")
	}
	if node := tr.FindByID("nonexistent"); node != nil {
		t.Errorf("FindByID(nonexistent) should return nil")
	}
	if New(nil).FindByID("x") != nil {
		t.Error("FindByID on an empty tree should return nil")
	}
}

func TestFindByID_ParentBeforeChildren(t *testing.T) {
	// Duplicate ids are invalid, but the search order must still be
	// deterministic: the parent wins over a descendant.
	parent := models.NewFolder("dup", "p", "p", models.NewFile("dup", "c", "p/c", nil))
	tr := New([]*models.FileNode{parent})
	if got := tr.FindByID("dup"); got != parent {
		t.Errorf("FindByID returned %+v, want the parent", got)
	}
}

func TestToggleOpen(t *testing.T) {
	tr := sample()
	toggled := tr.ToggleOpen("src/")

	if toggled == tr {
		t.Fatal("ToggleOpen should return a new tree")
	}
	if !toggled.Roots[0].IsOpen {
		t.Error("src should be open in the new tree")
	}
	if tr.Roots[0].IsOpen {
		t.Error("original tree was mutated")
	}
	if toggled.Roots[1] != tr.Roots[1] {
		t.Error("unchanged sibling should be shared")
	}
	if toggled.Roots[0].Children[0] != tr.Roots[0].Children[0] {
		t.Error("unchanged child should be shared")
	}

	if back := toggled.ToggleOpen("src/"); back.Roots[0].IsOpen {
		t.Error("second toggle should close the folder")
	}
}

func TestToggleOpen_Nested(t *testing.T) {
	tr := sample()
	toggled := tr.ToggleOpen("src/a.js")
	if !toggled.Roots[0].Children[0].IsOpen {
		t.Error("nested node not toggled")
	}
	if toggled.Roots[0] == tr.Roots[0] {
		t.Error("ancestor should be copied")
	}
	if tr.Roots[0].Children[0].IsOpen {
		t.Error("original nested node was mutated")
	}
}

func TestToggleOpen_Missing(t *testing.T) {
	tr := sample()
	if got := tr.ToggleOpen("nope"); got != tr {
		t.Error("toggling a missing id should be a no-op")
	}
}

func TestApplyPathEdit(t *testing.T) {
	tr := sample()

	if created, err := tr.ApplyPathEdit("src/a.js", "z"); created || err != nil {
		t.Errorf("existing path: created=%v err=%v", created, err)
	}
	if got := tr.FindByID("src/a.js").Text(); got != "z" {
		t.Errorf("a.js content = %q, want z", got)
	}

	if created, err := tr.ApplyPathEdit("missing/file.js", "w"); !created || err != nil {
		t.Errorf("missing path: created=%v err=%v", created, err)
	}
	if len(tr.Roots) != 3 {
		t.Fatalf("got %d roots, want 3", len(tr.Roots))
	}
	added := tr.Roots[2]
	if added.Path != "missing/file.js" || added.Name != "file.js" || added.Text() != "w" || added.IsDir() {
		t.Errorf("unexpected new node: %+v", added)
	}
	if added.ID == "" {
		t.Error("new node needs an id")
	}
	if tr.FindByPath("missing") != nil {
		t.Error("missing folder should not be created")
	}
	if err := models.ValidateForest(tr.Roots); err != nil {
		t.Errorf("ValidateForest: %v", err)
	}
}

func TestApplyPathEdit_FolderPathRejected(t *testing.T) {
	tr := sample()
	created, err := tr.ApplyPathEdit("src", "oops")
	if created || !errors.Is(err, ErrFolderPath) {
		t.Fatalf("ApplyPathEdit(folder) = %v, %v", created, err)
	}
	if len(tr.Roots) != 2 || tr.Roots[0].Content != nil {
		t.Errorf("tree changed: %+v", tr.Roots)
	}
	if n := tr.FindByPath("src"); n == nil || !n.IsDir() {
		t.Errorf("FindByPath(src) = %+v", n)
	}
}

func TestApplyPathEdit_TrailingSlash(t *testing.T) {
	tr := New(nil)
	tr.ApplyPathEdit("dir/", "x")
	if tr.Roots[0].Name != "newfile" {
		t.Errorf("Name = %q, want newfile", tr.Roots[0].Name)
	}
}

func TestApplyChanges(t *testing.T) {
	tr := sample()
	created, skipped := tr.ApplyChanges([]codec.FileChange{
		{Path: "readme.md", Content: "one"},
		{Path: "new.txt", Content: "two"},
		{Path: "src", Content: "not a file"},
		{Path: "readme.md", Content: "three"},
	})
	if created != 1 {
		t.Errorf("created = %d, want 1", created)
	}
	if len(skipped) != 1 || skipped[0].Path != "src" {
		t.Errorf("skipped = %v", skipped)
	}
	if got := tr.FindByPath("readme.md").Text(); got != "three" {
		t.Errorf("readme content = %q, want last edit", got)
	}
	paths := map[string]int{}
	tr.Walk(func(n *models.FileNode) bool {
		paths[n.Path]++
		return true
	})
	for p, n := range paths {
		if n > 1 {
			t.Errorf("path %q appears %d times", p, n)
		}
	}
}

func TestExtractText(t *testing.T) {
	tr := sample()
	tr.Roots = append(tr.Roots, models.NewFile("logo.png", "logo.png", "logo.png", nil))

	text, n := tr.ExtractTextCount()
	want := "\nFILE: src/a.js\nx\n\nFILE: readme.md\ny\n"
	if text != want {
		t.Errorf("ExtractText = %q, want %q", text, want)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if strings.Contains(text, "logo.png") {
		t.Error("binary file should be skipped")
	}
	if tr.ExtractText() != text {
		t.Error("ExtractText and ExtractTextCount disagree")
	}
}

func TestCounts(t *testing.T) {
	tr := sample()
	if got := tr.CountFiles(); got != 2 {
		t.Errorf("CountFiles = %d, want 2", got)
	}
	if got := tr.CountNodes(); got != 3 {
		t.Errorf("CountNodes = %d, want 3", got)
	}
	if New(nil).CountNodes() != 0 {
		t.Error("empty tree should have no nodes")
	}
}

func TestClone(t *testing.T) {
	tr := sample()
	c := tr.Clone()
	c.ApplyPathEdit("readme.md", "changed")
	if tr.FindByPath("readme.md").Text() != "y" {
		t.Error("Clone shares nodes with the original")
	}
}
