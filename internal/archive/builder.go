// Package archive turns a flat archive listing into a project file tree.
package archive

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/vibecode/vibecode/internal/models"
)

// Entry is one item of an archive listing. Open is only called for
// non-binary files.
type Entry struct {
	Path  string
	IsDir bool
	Open  func() (io.ReadCloser, error)
}

// Build resolves a flat, unordered listing into root-level nodes.
//
// Node ids are the normalized archive paths (directories keep their
// trailing slash), so re-importing the same archive yields the same ids.
// Children and roots keep archive entry order. An entry whose parent
// directory is missing from a listing that does contain directory entries
// is promoted to root. A listing without any directory entry gets its
// intermediate folders synthesized.
func Build(entries []Entry) ([]*models.FileNode, error) {
	nodes := make(map[string]*models.FileNode, len(entries))
	var order []string
	hasDirs := false

	// First pass: one node per entry, no nesting yet.
	for _, e := range entries {
		key := normalizeKey(e.Path, e.IsDir)
		if key == "" {
			continue
		}
		if _, dup := nodes[key]; dup {
			continue
		}
		node, err := newNode(key, e)
		if err != nil {
			return nil, err
		}
		if node.IsDir() {
			hasDirs = true
		}
		nodes[key] = node
		order = append(order, key)
	}

	if !hasDirs {
		order = synthesizeFolders(order, nodes)
	}

	// Second pass: attach each node to its parent, if the parent exists.
	var roots []*models.FileNode
	for _, key := range order {
		node := nodes[key]
		parent, ok := nodes[parentKey(key)]
		if ok && parent.IsDir() {
			parent.Children = append(parent.Children, node)
			continue
		}
		roots = append(roots, node)
	}
	if roots == nil {
		roots = []*models.FileNode{}
	}
	return roots, nil
}

// ImportFile wraps a single uploaded file as a root node with a fresh id.
func ImportFile(name string, content []byte) *models.FileNode {
	var text *string
	if !IsBinary(name) {
		text = models.StringPtr(string(content))
	}
	return models.NewFile(uuid.NewString(), name, "/"+name, text)
}

func newNode(key string, e Entry) (*models.FileNode, error) {
	p := strings.TrimSuffix(key, "/")
	name := p[strings.LastIndex(p, "/")+1:]
	if strings.HasSuffix(key, "/") {
		return models.NewFolder(key, name, p), nil
	}
	if IsBinary(name) || e.Open == nil {
		return models.NewFile(key, name, p, nil), nil
	}
	rc, err := e.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return models.NewFile(key, name, p, models.StringPtr(string(data))), nil
}

// synthesizeFolders inserts a folder node for every missing ancestor,
// placed just before the first entry that needs it.
func synthesizeFolders(order []string, nodes map[string]*models.FileNode) []string {
	out := make([]string, 0, len(order))
	for _, key := range order {
		var missing []string
		for dir := parentKey(key); dir != ""; dir = parentKey(dir) {
			if _, ok := nodes[dir]; ok {
				break
			}
			missing = append(missing, dir)
		}
		for i := len(missing) - 1; i >= 0; i-- {
			dir := missing[i]
			p := strings.TrimSuffix(dir, "/")
			nodes[dir] = models.NewFolder(dir, p[strings.LastIndex(p, "/")+1:], p)
			out = append(out, dir)
		}
		out = append(out, key)
	}
	return out
}

func normalizeKey(p string, isDir bool) string {
	p = strings.ReplaceAll(p, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimLeft(p, "/")
	if strings.HasSuffix(p, "/") {
		isDir = true
	}
	p = strings.TrimRight(p, "/")
	if p == "" || p == "." {
		return ""
	}
	if isDir {
		return p + "/"
	}
	return p
}

// parentKey returns the directory key holding key, or "" for a root entry.
func parentKey(key string) string {
	p := strings.TrimSuffix(key, "/")
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return ""
	}
	return p[:i+1]
}
