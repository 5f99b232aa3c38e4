package workspace

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
)

// Context sent with a question is cut to these sizes.
const (
	maxProjectContext = 50000
	maxFileContext    = 20000
)

// Prompt is what an Assistant receives for one question.
type Prompt struct {
	Text string
	// ProjectContext is the last extracted project text, if any.
	ProjectContext string
	// ActiveFile is set only when there is no project context.
	ActiveFile *models.FileNode
	Knowledge  []models.KnowledgeEntry
	History    []models.ChatMessage
}

// Assistant answers questions about a project.
type Assistant interface {
	Reply(ctx context.Context, p Prompt) (string, error)
}

// Reply is an answered question.
type Reply struct {
	Message models.ChatMessage
	// Changes lists the file changes the reply proposes. They are not
	// applied; pass Message.Text to ApplyFileChanges for that.
	Changes []codec.FileChange
}

// Messages returns a copy of the chat log.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage{}, s.messages...)
}

// AppendMessage adds a message to the chat log.
func (s *Session) AppendMessage(role models.ChatRole, text string) models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendMessage(role, text)
}

func (s *Session) appendMessage(role models.ChatRole, text string) models.ChatMessage {
	m := models.ChatMessage{
		ID:        newID(),
		Role:      role,
		Text:      text,
		Timestamp: s.now().UTC(),
	}
	s.messages = append(s.messages, m)
	s.saveChat()
	s.saveState()
	return m
}

// Ask records the question, asks the assistant and records its answer. The
// question stays in the log when the assistant fails.
func (s *Session) Ask(ctx context.Context, a Assistant, text string) (*Reply, error) {
	s.mu.Lock()
	history := append([]models.ChatMessage{}, s.messages...)
	s.appendMessage(models.RoleUser, text)
	p := Prompt{
		Text:      text,
		Knowledge: append([]models.KnowledgeEntry{}, s.knowledge...),
		History:   history,
	}
	if s.context != "" {
		p.ProjectContext = truncate(s.context, maxProjectContext)
	} else if f := s.activeFile(); f != nil && f.Content != nil {
		f.Content = models.StringPtr(truncate(*f.Content, maxFileContext))
		p.ActiveFile = f
	}
	s.mu.Unlock()

	answer, err := a.Reply(ctx, p)
	if err != nil {
		logging.Warn("assistant failed", logging.Project(s.projectID), zap.Error(err))
		return nil, fmt.Errorf("ask: %w", err)
	}

	s.mu.Lock()
	m := s.appendMessage(models.RoleModel, answer)
	s.mu.Unlock()

	changes, _ := codec.ParseFileChanges(answer)
	return &Reply{Message: m, Changes: changes}, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

