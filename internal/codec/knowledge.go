package codec

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vibecode/vibecode/internal/models"
)

// Identity of the single entry a plain-text knowledge base decodes to.
const (
	LegacyEntryID    = "legacy-1"
	LegacyEntryTitle = "General Context"
)

// EncodeKnowledge serializes entries as a JSON array.
func EncodeKnowledge(entries []models.KnowledgeEntry) string {
	if entries == nil {
		entries = []models.KnowledgeEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// knowledgeJSON accepts any value in every field so one malformed field
// never costs the whole entry.
type knowledgeJSON struct {
	ID        any `json:"id"`
	Title     any `json:"title"`
	Content   any `json:"content"`
	Category  any `json:"category"`
	UpdatedAt any `json:"updatedAt"`
}

// DecodeKnowledge parses a knowledge-base string. It never fails:
// a blank string or JSON that is not an array gives an empty list, and text
// that is not JSON at all becomes a single general entry. Inside an array,
// fields of the wrong type are coerced rather than dropped, and a bare
// string item becomes an entry with that content.
func DecodeKnowledge(s string) []models.KnowledgeEntry {
	if strings.TrimSpace(s) == "" {
		return []models.KnowledgeEntry{}
	}
	if !json.Valid([]byte(s)) {
		return []models.KnowledgeEntry{{
			ID:        LegacyEntryID,
			Title:     LegacyEntryTitle,
			Content:   s,
			Category:  models.CategoryGeneral,
			UpdatedAt: time.Now().UTC(),
		}}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return []models.KnowledgeEntry{}
	}
	out := make([]models.KnowledgeEntry, 0, len(raw))
	for _, item := range raw {
		if strings.TrimSpace(string(item)) == "null" {
			continue
		}
		var k knowledgeJSON
		if err := json.Unmarshal(item, &k); err != nil {
			var text string
			if json.Unmarshal(item, &text) != nil {
				continue
			}
			k.Content = text
		}
		e := models.KnowledgeEntry{
			ID:        looseString(k.ID),
			Title:     looseString(k.Title),
			Content:   looseString(k.Content),
			Category:  models.NormalizeCategory(looseString(k.Category)),
			UpdatedAt: looseTime(k.UpdatedAt),
		}
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Title == "" {
			e.Title = "Untitled"
		}
		out = append(out, e)
	}
	return out
}

func looseString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

// looseTime reads an RFC 3339 string or epoch milliseconds, falling back
// to now.
func looseTime(v any) time.Time {
	switch v := v.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	case float64:
		if v > 0 {
			return time.UnixMilli(int64(v)).UTC()
		}
	}
	return time.Now().UTC()
}
