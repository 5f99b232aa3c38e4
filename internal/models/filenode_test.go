package models

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestFileNode_MarshalJSON(t *testing.T) {
	folder := NewFolder("src/", "src", "src")
	data, err := json.Marshal(folder)
	if err != nil {
		t.Fatalf("Marshal folder: %v", err)
	}
	if !strings.Contains(string(data), `"children":[]`) {
		t.Errorf("empty folder should serialize children, got %s", data)
	}
	if strings.Contains(string(data), `"content"`) {
		t.Errorf("folder should not serialize content, got %s", data)
	}

	bin := NewFile("logo.png", "logo.png", "logo.png", nil)
	data, err = json.Marshal(bin)
	if err != nil {
		t.Fatalf("Marshal file: %v", err)
	}
	if strings.Contains(string(data), `"content"`) || strings.Contains(string(data), `"children"`) {
		t.Errorf("binary file should carry neither content nor children, got %s", data)
	}
}

func TestFileNode_UnmarshalJSON(t *testing.T) {
	input := `[
		{"id":"src/","name":"src","type":"folder","path":"src","isOpen":true,"content":"ignored",
		 "children":[{"id":"src/a.js","name":"a.js","type":"file","path":"src/a.js","content":"x"}]},
		{"id":"readme.md","name":"readme.md","type":"file","path":"readme.md","content":"y","children":[]}
	]`
	var roots []*FileNode
	if err := json.Unmarshal([]byte(input), &roots); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("got %d roots, want 2", len(roots))
	}
	if roots[0].Content != nil {
		t.Error("folder content should be dropped")
	}
	if !roots[0].IsOpen {
		t.Error("isOpen lost")
	}
	if got := roots[0].Children[0].Text(); got != "x" {
		t.Errorf("child content = %q, want x", got)
	}
	if roots[1].Children != nil {
		t.Error("file children should be dropped")
	}
	if err := ValidateForest(roots); err != nil {
		t.Errorf("ValidateForest: %v", err)
	}

	if err := json.Unmarshal([]byte(`{"id":"x","type":"link"}`), new(FileNode)); !errors.Is(err, ErrUnknownType) {
		t.Errorf("unknown type: got %v, want ErrUnknownType", err)
	}
}

func TestValidateForest(t *testing.T) {
	bad := &FileNode{ID: "a", Path: "a", Type: TypeFile, Content: StringPtr("x"),
		Children: []*FileNode{NewFile("b", "b", "a/b", nil)}}
	if err := ValidateForest([]*FileNode{bad}); !errors.Is(err, ErrBothPayloads) {
		t.Errorf("file with children: got %v", err)
	}

	dup := []*FileNode{
		NewFolder("d/", "d", "d", NewFile("x", "x", "d/x", nil)),
		NewFile("x", "x", "x", nil),
	}
	if err := ValidateForest(dup); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate ids across levels: got %v", err)
	}

	loop := NewFolder("l/", "l", "l")
	loop.Children = append(loop.Children, loop)
	if err := ValidateForest([]*FileNode{loop}); !errors.Is(err, ErrCycle) {
		t.Errorf("cycle: got %v", err)
	}
}

func TestFileNode_Clone(t *testing.T) {
	orig := NewFolder("d/", "d", "d", NewFile("d/a", "a", "d/a", StringPtr("one")))
	c := orig.Clone()
	*c.Children[0].Content = "two"
	c.Children[0].Name = "b"
	if orig.Children[0].Text() != "one" || orig.Children[0].Name != "a" {
		t.Error("Clone shares state with the original")
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		in   string
		want KnowledgeCategory
	}{
		{"business", CategoryBusiness},
		{" Technical ", CategoryTechnical},
		{"user", CategoryUser},
		{"", CategoryGeneral},
		{"misc", CategoryGeneral},
	}
	for _, tt := range tests {
		if got := NormalizeCategory(tt.in); got != tt.want {
			t.Errorf("NormalizeCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
