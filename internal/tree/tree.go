// Package tree provides the operations the workspace performs on a project
// file tree.
package tree

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/models"
)

// ErrFolderPath is returned when a file edit names the path of a folder.
var ErrFolderPath = errors.New("path is a folder")

// Tree is an ordered forest of root nodes.
//
// ToggleOpen returns a new Tree that shares every unchanged node with its
// source. The other mutators work in place.
type Tree struct {
	Roots []*models.FileNode
}

// New wraps roots in a Tree. A nil forest becomes an empty one.
func New(roots []*models.FileNode) *Tree {
	if roots == nil {
		roots = []*models.FileNode{}
	}
	return &Tree{Roots: roots}
}

// Walk visits every node depth-first, parents before children and siblings
// in order. Returning false from fn stops the walk.
func (t *Tree) Walk(fn func(n *models.FileNode) bool) {
	walk(t.Roots, fn)
}

func walk(nodes []*models.FileNode, fn func(n *models.FileNode) bool) bool {
	for _, n := range nodes {
		if !fn(n) {
			return false
		}
		if !walk(n.Children, fn) {
			return false
		}
	}
	return true
}

// FindByID returns the first node with the given id, or nil.
func (t *Tree) FindByID(id string) *models.FileNode {
	var found *models.FileNode
	t.Walk(func(n *models.FileNode) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindByPath returns the first node with the given path, or nil.
func (t *Tree) FindByPath(path string) *models.FileNode {
	var found *models.FileNode
	t.Walk(func(n *models.FileNode) bool {
		if n.Path == path {
			found = n
			return false
		}
		return true
	})
	return found
}

// ToggleOpen returns a tree with the isOpen flag of the node flipped. Only
// the node and its ancestors are copied. When no node has the id the
// receiver itself is returned.
func (t *Tree) ToggleOpen(id string) *Tree {
	roots, ok := toggle(t.Roots, id)
	if !ok {
		return t
	}
	return &Tree{Roots: roots}
}

func toggle(nodes []*models.FileNode, id string) ([]*models.FileNode, bool) {
	for i, n := range nodes {
		var repl *models.FileNode
		if n.ID == id {
			c := *n
			c.IsOpen = !n.IsOpen
			repl = &c
		} else if children, ok := toggle(n.Children, id); ok {
			c := *n
			c.Children = children
			repl = &c
		}
		if repl != nil {
			out := make([]*models.FileNode, len(nodes))
			copy(out, nodes)
			out[i] = repl
			return out, true
		}
	}
	return nil, false
}

// ApplyPathEdit replaces the content of the file whose path equals path.
// When there is none, a new root file is appended; missing parent folders
// are not created. A path held by a folder is rejected with ErrFolderPath
// and the tree is left unchanged. It reports whether a node was created.
func (t *Tree) ApplyPathEdit(path, content string) (bool, error) {
	var target *models.FileNode
	t.Walk(func(n *models.FileNode) bool {
		if n.Path == path {
			target = n
			return false
		}
		return true
	})
	if target != nil {
		if target.IsDir() {
			return false, fmt.Errorf("%s: %w", path, ErrFolderPath)
		}
		target.Content = models.StringPtr(content)
		return false, nil
	}

	name := path[strings.LastIndex(path, "/")+1:]
	if name == "" {
		name = "newfile"
	}
	t.Roots = append(t.Roots, models.NewFile(uuid.NewString(), name, path, models.StringPtr(content)))
	return true, nil
}

// ApplyChanges applies a batch of path edits in order. Changes that name a
// folder are skipped and returned; the rest of the batch still applies.
func (t *Tree) ApplyChanges(changes []codec.FileChange) (created int, skipped []codec.FileChange) {
	for _, ch := range changes {
		ok, err := t.ApplyPathEdit(ch.Path, ch.Content)
		if err != nil {
			skipped = append(skipped, ch)
			continue
		}
		if ok {
			created++
		}
	}
	return created, skipped
}

// ExtractText concatenates the path and content of every text file.
func (t *Tree) ExtractText() string {
	text, _ := t.ExtractTextCount()
	return text
}

// ExtractTextCount is ExtractText plus the number of files included.
func (t *Tree) ExtractTextCount() (string, int) {
	var b strings.Builder
	count := 0
	t.Walk(func(n *models.FileNode) bool {
		if n.IsDir() || n.Content == nil {
			return true
		}
		b.WriteString("\nFILE: ")
		b.WriteString(n.Path)
		b.WriteString("\n")
		b.WriteString(*n.Content)
		b.WriteString("\n")
		count++
		return true
	})
	return b.String(), count
}

// CountFiles counts file nodes, binary ones included.
func (t *Tree) CountFiles() int {
	count := 0
	t.Walk(func(n *models.FileNode) bool {
		if !n.IsDir() {
			count++
		}
		return true
	})
	return count
}

// CountNodes counts all nodes.
func (t *Tree) CountNodes() int {
	count := 0
	t.Walk(func(*models.FileNode) bool {
		count++
		return true
	})
	return count
}

// Clone returns a deep copy of the tree.
func (t *Tree) Clone() *Tree {
	roots := make([]*models.FileNode, len(t.Roots))
	for i, r := range t.Roots {
		roots[i] = r.Clone()
	}
	return &Tree{Roots: roots}
}
