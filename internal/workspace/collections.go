package workspace

import (
	"fmt"

	"github.com/vibecode/vibecode/internal/models"
)

// KnowledgeUpdate changes the non-nil fields of a knowledge entry.
type KnowledgeUpdate struct {
	Title    *string
	Content  *string
	Category *string
}

// Knowledge returns a copy of the knowledge base.
func (s *Session) Knowledge() []models.KnowledgeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.KnowledgeEntry{}, s.knowledge...)
}

// AddKnowledge appends a new entry.
func (s *Session) AddKnowledge(title, content, category string) models.KnowledgeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trimmed(title) == "" {
		title = "Untitled"
	}
	e := models.KnowledgeEntry{
		ID:        newID(),
		Title:     title,
		Content:   content,
		Category:  models.NormalizeCategory(category),
		UpdatedAt: s.now().UTC(),
	}
	s.knowledge = append(s.knowledge, e)
	s.saveState()
	return e
}

// UpdateKnowledge edits an entry in place and bumps its update time.
func (s *Session) UpdateKnowledge(id string, u KnowledgeUpdate) (models.KnowledgeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.knowledge {
		e := &s.knowledge[i]
		if e.ID != id {
			continue
		}
		if u.Title != nil {
			e.Title = *u.Title
		}
		if u.Content != nil {
			e.Content = *u.Content
		}
		if u.Category != nil {
			e.Category = models.NormalizeCategory(*u.Category)
		}
		e.UpdatedAt = s.now().UTC()
		s.saveState()
		return *e, nil
	}
	return models.KnowledgeEntry{}, fmt.Errorf("knowledge %s: %w", id, ErrEntryNotFound)
}

// DeleteKnowledge removes an entry.
func (s *Session) DeleteKnowledge(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.knowledge {
		if e.ID == id {
			s.knowledge = append(s.knowledge[:i:i], s.knowledge[i+1:]...)
			s.saveState()
			return nil
		}
	}
	return fmt.Errorf("knowledge %s: %w", id, ErrEntryNotFound)
}

// Clipboard returns a copy of the clipboard, newest first.
func (s *Session) Clipboard() []models.ClipboardItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ClipboardItem{}, s.clipboard...)
}

// AddClipboardItem puts an item at the top of the clipboard. A missing id
// or timestamp is filled in.
func (s *Session) AddClipboardItem(item models.ClipboardItem) models.ClipboardItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = newID()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = s.now().UTC()
	}
	if item.Relevance == "" {
		item.Relevance = models.RelevanceMedium
	}
	s.clipboard = append([]models.ClipboardItem{item}, s.clipboard...)
	s.saveState()
	return item
}

// UpdateClipboardItem replaces the item with the same id, keeping its
// position.
func (s *Session) UpdateClipboardItem(item models.ClipboardItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.clipboard {
		if s.clipboard[i].ID == item.ID {
			if item.Timestamp.IsZero() {
				item.Timestamp = s.clipboard[i].Timestamp
			}
			s.clipboard[i] = item
			s.saveState()
			return nil
		}
	}
	return fmt.Errorf("clipboard %s: %w", item.ID, ErrEntryNotFound)
}

// DeleteClipboardItem removes an item.
func (s *Session) DeleteClipboardItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, item := range s.clipboard {
		if item.ID == id {
			s.clipboard = append(s.clipboard[:i:i], s.clipboard[i+1:]...)
			s.saveState()
			return nil
		}
	}
	return fmt.Errorf("clipboard %s: %w", id, ErrEntryNotFound)
}
