package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vibecode/vibecode/internal/models"
)

// EncodeClipboard serializes the clipboard set as a JSON array.
func EncodeClipboard(items []models.ClipboardItem) (string, error) {
	if items == nil {
		items = []models.ClipboardItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode clipboard: %w", err)
	}
	return string(data), nil
}

// DecodeClipboard parses a stored clipboard payload. Anything that is not a
// JSON array of items yields an empty list.
func DecodeClipboard(s string) []models.ClipboardItem {
	if strings.TrimSpace(s) == "" {
		return []models.ClipboardItem{}
	}
	var items []models.ClipboardItem
	if err := json.Unmarshal([]byte(s), &items); err != nil || items == nil {
		return []models.ClipboardItem{}
	}
	return items
}
