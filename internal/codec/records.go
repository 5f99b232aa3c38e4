// Package codec converts project trees to and from the flat record form the
// stores persist, and decodes the string payloads that travel alongside.
package codec

import (
	"sort"

	"github.com/vibecode/vibecode/internal/models"
)

// SentinelName is the reserved file name under which the clipboard set is
// stored as a tree node by the legacy layout.
const SentinelName = ".vibecode_clipboard.json"

// SentinelPath is the path of the clipboard sentinel node.
const SentinelPath = "/" + SentinelName

// SentinelID returns the id of the clipboard sentinel node of a project.
func SentinelID(projectID string) string {
	return "clipboard-persistence-node-" + projectID
}

// Record is one flattened tree node.
type Record struct {
	ID       string
	ParentID *string
	Name     string
	Type     models.NodeType
	Path     string
	Content  *string
	IsOpen   bool
	Position int
}

// IsSentinel reports whether the record holds the clipboard set.
func (r Record) IsSentinel() bool {
	return r.Name == SentinelName
}

// Flatten lists every node in pre-order. Position is the pre-order index.
func Flatten(roots []*models.FileNode) []Record {
	var out []Record
	var visit func(nodes []*models.FileNode, parent *string)
	visit = func(nodes []*models.FileNode, parent *string) {
		for _, n := range nodes {
			rec := Record{
				ID:       n.ID,
				ParentID: parent,
				Name:     n.Name,
				Type:     n.Type,
				Path:     n.Path,
				IsOpen:   n.IsOpen,
				Position: len(out),
			}
			if !n.IsDir() && n.Content != nil {
				rec.Content = models.StringPtr(*n.Content)
			}
			out = append(out, rec)
			if n.IsDir() {
				id := n.ID
				visit(n.Children, &id)
			}
		}
	}
	visit(roots, nil)
	return out
}

// FlattenWithClipboard is Flatten followed by the clipboard sentinel record.
func FlattenWithClipboard(projectID string, roots []*models.FileNode, items []models.ClipboardItem) ([]Record, error) {
	recs := Flatten(roots)
	payload, err := EncodeClipboard(items)
	if err != nil {
		return nil, err
	}
	recs = append(recs, Record{
		ID:       SentinelID(projectID),
		Name:     SentinelName,
		Type:     models.TypeFile,
		Path:     SentinelPath,
		Content:  models.StringPtr(payload),
		Position: len(recs),
	})
	return recs, nil
}

// Rebuild reassembles a forest from records in any order. The clipboard
// sentinel is removed wherever it sits and decoded on its own; a missing
// or malformed sentinel yields an empty clipboard.
//
// Records whose parent is absent or is a file become roots. Siblings are
// ordered by Position, then by input order.
func Rebuild(records []Record) ([]*models.FileNode, []models.ClipboardItem) {
	clipboard := []models.ClipboardItem{}
	recs := make([]Record, 0, len(records))
	for _, r := range records {
		if r.IsSentinel() {
			if r.Content != nil {
				clipboard = DecodeClipboard(*r.Content)
			}
			continue
		}
		recs = append(recs, r)
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Position < recs[j].Position })

	nodes := make(map[string]*models.FileNode, len(recs))
	for _, r := range recs {
		if _, dup := nodes[r.ID]; dup {
			continue
		}
		nodes[r.ID] = recordNode(r)
	}

	children := make(map[string][]Record)
	var roots []Record
	for _, r := range recs {
		if r.ParentID != nil {
			if parent, ok := nodes[*r.ParentID]; ok && parent.IsDir() && *r.ParentID != r.ID {
				children[*r.ParentID] = append(children[*r.ParentID], r)
				continue
			}
		}
		roots = append(roots, r)
	}

	placed := make(map[string]bool, len(nodes))
	var attach func(r Record) *models.FileNode
	attach = func(r Record) *models.FileNode {
		if placed[r.ID] {
			return nil
		}
		placed[r.ID] = true
		n := nodes[r.ID]
		for _, c := range children[r.ID] {
			if child := attach(c); child != nil {
				n.Children = append(n.Children, child)
			}
		}
		return n
	}

	out := []*models.FileNode{}
	for _, r := range roots {
		if n := attach(r); n != nil {
			out = append(out, n)
		}
	}
	// Parent chains that loop never reach a root; keep them as roots.
	for _, r := range recs {
		if !placed[r.ID] {
			out = append(out, attach(r))
		}
	}
	return out, clipboard
}

func recordNode(r Record) *models.FileNode {
	var n *models.FileNode
	if r.Type == models.TypeFolder {
		n = models.NewFolder(r.ID, r.Name, r.Path)
	} else {
		var content *string
		if r.Content != nil {
			content = models.StringPtr(*r.Content)
		}
		n = models.NewFile(r.ID, r.Name, r.Path, content)
	}
	n.IsOpen = r.IsOpen
	return n
}

// StripSentinel removes any clipboard sentinel node from a forest, at any
// depth, and returns the remaining roots.
func StripSentinel(roots []*models.FileNode) []*models.FileNode {
	out := make([]*models.FileNode, 0, len(roots))
	for _, n := range roots {
		if n.Name == SentinelName {
			continue
		}
		if n.IsDir() {
			n.Children = StripSentinel(n.Children)
		}
		out = append(out, n)
	}
	return out
}
