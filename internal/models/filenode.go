// Package models contains the data types shared by the tree, codec,
// stores and transport.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NodeType discriminates files from folders.
type NodeType string

const (
	TypeFile   NodeType = "file"
	TypeFolder NodeType = "folder"
)

// FileNode is one file or folder of a project tree.
//
// A file may carry Content and never has Children; a folder may carry
// Children and never has Content. Build nodes with NewFile and NewFolder.
type FileNode struct {
	ID       string
	Name     string
	Path     string
	Type     NodeType
	Content  *string
	Children []*FileNode
	IsOpen   bool
}

// NewFile returns a file node. A nil content marks a binary file.
func NewFile(id, name, path string, content *string) *FileNode {
	return &FileNode{ID: id, Name: name, Path: path, Type: TypeFile, Content: content}
}

// NewFolder returns a closed folder node with the given children.
func NewFolder(id, name, path string, children ...*FileNode) *FileNode {
	if children == nil {
		children = []*FileNode{}
	}
	return &FileNode{ID: id, Name: name, Path: path, Type: TypeFolder, Children: children}
}

// IsDir reports whether the node is a folder.
func (n *FileNode) IsDir() bool {
	return n.Type == TypeFolder
}

// Text returns the file content, or "" for folders and binary files.
func (n *FileNode) Text() string {
	if n.Content == nil {
		return ""
	}
	return *n.Content
}

// Clone returns a deep copy of the node.
func (n *FileNode) Clone() *FileNode {
	if n == nil {
		return nil
	}
	c := *n
	if n.Content != nil {
		s := *n.Content
		c.Content = &s
	}
	if n.Children != nil {
		c.Children = make([]*FileNode, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}

var (
	ErrBothPayloads = errors.New("node has both content and children")
	ErrUnknownType  = errors.New("unknown node type")
	ErrDuplicateID  = errors.New("duplicate node id")
	ErrCycle        = errors.New("tree contains a cycle")
)

// Validate checks the node's own shape (not its descendants).
func (n *FileNode) Validate() error {
	switch n.Type {
	case TypeFile:
		if len(n.Children) > 0 {
			return fmt.Errorf("%s: %w", n.Path, ErrBothPayloads)
		}
	case TypeFolder:
		if n.Content != nil {
			return fmt.Errorf("%s: %w", n.Path, ErrBothPayloads)
		}
	default:
		return fmt.Errorf("%s: %w %q", n.Path, ErrUnknownType, n.Type)
	}
	return nil
}

// ValidateForest validates every node of a forest and checks that ids are
// unique across the whole set and that no node is reachable twice.
func ValidateForest(roots []*FileNode) error {
	ids := make(map[string]bool)
	seen := make(map[*FileNode]bool)
	var walk func(nodes []*FileNode) error
	walk = func(nodes []*FileNode) error {
		for _, n := range nodes {
			if seen[n] {
				return fmt.Errorf("%s: %w", n.Path, ErrCycle)
			}
			seen[n] = true
			if err := n.Validate(); err != nil {
				return err
			}
			if ids[n.ID] {
				return fmt.Errorf("%s: %w %q", n.Path, ErrDuplicateID, n.ID)
			}
			ids[n.ID] = true
			if err := walk(n.Children); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(roots)
}

type fileJSON struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Type    NodeType `json:"type"`
	Path    string   `json:"path"`
	Content *string  `json:"content,omitempty"`
	IsOpen  bool     `json:"isOpen"`
}

type folderJSON struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Type     NodeType    `json:"type"`
	Path     string      `json:"path"`
	Children []*FileNode `json:"children"`
	IsOpen   bool        `json:"isOpen"`
}

// MarshalJSON always emits children for folders and never for files.
func (n *FileNode) MarshalJSON() ([]byte, error) {
	if n.Type == TypeFolder {
		children := n.Children
		if children == nil {
			children = []*FileNode{}
		}
		return json.Marshal(folderJSON{
			ID: n.ID, Name: n.Name, Type: n.Type, Path: n.Path,
			Children: children, IsOpen: n.IsOpen,
		})
	}
	return json.Marshal(fileJSON{
		ID: n.ID, Name: n.Name, Type: n.Type, Path: n.Path,
		Content: n.Content, IsOpen: n.IsOpen,
	})
}

// UnmarshalJSON accepts both shapes and drops the payload that does not
// belong to the node's type.
func (n *FileNode) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID       string      `json:"id"`
		Name     string      `json:"name"`
		Type     NodeType    `json:"type"`
		Path     string      `json:"path"`
		Content  *string     `json:"content"`
		Children []*FileNode `json:"children"`
		IsOpen   bool        `json:"isOpen"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*n = FileNode{ID: raw.ID, Name: raw.Name, Type: raw.Type, Path: raw.Path, IsOpen: raw.IsOpen}
	switch raw.Type {
	case TypeFolder:
		n.Children = raw.Children
		if n.Children == nil {
			n.Children = []*FileNode{}
		}
	case TypeFile:
		n.Content = raw.Content
	default:
		return fmt.Errorf("%s: %w %q", raw.Path, ErrUnknownType, raw.Type)
	}
	return nil
}
