package codec

import (
	"encoding/json"
	"strings"
)

const (
	changesOpen  = "<file_changes>"
	changesClose = "</file_changes>"
)

// FileChange is a whole-file replacement proposed by the assistant.
type FileChange struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Action  string `json:"action,omitempty"`
}

// ParseFileChanges extracts the change list from an assistant reply. The
// reply either wraps a JSON array in a <file_changes> block or is the bare
// array. Changes without a path are dropped. ok is false when the text
// holds no parsable change list.
func ParseFileChanges(text string) (changes []FileChange, ok bool) {
	payload := strings.TrimSpace(text)
	if i := strings.Index(text, changesOpen); i >= 0 {
		rest := text[i+len(changesOpen):]
		j := strings.Index(rest, changesClose)
		if j < 0 {
			return nil, false
		}
		payload = strings.TrimSpace(rest[:j])
	}
	if !strings.HasPrefix(payload, "[") {
		return nil, false
	}

	var raw []FileChange
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, false
	}
	out := make([]FileChange, 0, len(raw))
	for _, c := range raw {
		if strings.TrimSpace(c.Path) == "" {
			continue
		}
		out = append(out, c)
	}
	return out, true
}

// StripFileChanges returns the reply text in front of the change block.
func StripFileChanges(text string) string {
	if i := strings.Index(text, changesOpen); i >= 0 {
		return strings.TrimSpace(text[:i])
	}
	return text
}
