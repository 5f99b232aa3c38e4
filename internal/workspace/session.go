// Package workspace holds the in-memory state of an open project and saves
// it in the background on every change.
//
// A Session owns its tree and collections. Each mutation recomputes the
// project stats and hands a copy of the state to the gateway writer, so
// callers never share mutable nodes with a save in flight.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/archive"
	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/gateway"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/tree"
)

var (
	// ErrNodeNotFound is returned when no tree node has the given id.
	ErrNodeNotFound = errors.New("node not found")
	// ErrEntryNotFound is returned for an unknown knowledge or clipboard id.
	ErrEntryNotFound = errors.New("entry not found")
	// ErrNoChanges is returned when an assistant reply holds no change list.
	ErrNoChanges = errors.New("no file changes in reply")
)

// Session is one open project.
type Session struct {
	projectID string
	gw        *gateway.Gateway
	writer    *gateway.Writer
	now       func() time.Time

	mu           sync.Mutex
	tree         *tree.Tree
	activeFileID *string
	knowledge    []models.KnowledgeEntry
	clipboard    []models.ClipboardItem
	messages     []models.ChatMessage
	taskCount    int
	context      string
	source       gateway.Outcome
}

// Open loads a project's state and chat log through the gateway.
func Open(ctx context.Context, gw *gateway.Gateway, writer *gateway.Writer, projectID string) (*Session, error) {
	state, err := gw.LoadState(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", projectID, err)
	}
	messages, err := gw.LoadChat(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("open project %s: %w", projectID, err)
	}

	s := &Session{
		projectID:    projectID,
		gw:           gw,
		writer:       writer,
		now:          time.Now,
		tree:         tree.New(state.RootNodes),
		activeFileID: state.ActiveFileID,
		knowledge:    state.Knowledge,
		clipboard:    state.Clipboard,
		messages:     messages,
		source:       state.Source,
	}
	if s.knowledge == nil {
		s.knowledge = []models.KnowledgeEntry{}
	}
	if s.clipboard == nil {
		s.clipboard = []models.ClipboardItem{}
	}
	if s.messages == nil {
		s.messages = []models.ChatMessage{}
	}

	logging.Info("project opened",
		logging.Project(projectID),
		zap.String("source", state.Source.String()),
		zap.Int("files", s.tree.CountFiles()),
		zap.Int("messages", len(s.messages)))
	return s, nil
}

// ProjectID returns the id of the open project.
func (s *Session) ProjectID() string {
	return s.projectID
}

// Source reports which store served the initial load.
func (s *Session) Source() gateway.Outcome {
	return s.source
}

// Tree returns a deep copy of the project tree.
func (s *Session) Tree() *tree.Tree {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Clone()
}

// Stats returns the current project stats.
func (s *Session) Stats() models.ProjectStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats()
}

func (s *Session) stats() models.ProjectStats {
	return models.ProjectStats{
		FilesCount: s.tree.CountFiles(),
		ChatsCount: len(s.messages),
		TasksCount: s.taskCount,
	}
}

// snapshot copies the state for the writer. Called with mu held.
func (s *Session) snapshot() gateway.Snapshot {
	stats := s.stats()
	var active *string
	if s.activeFileID != nil {
		active = models.StringPtr(*s.activeFileID)
	}
	return gateway.Snapshot{
		RootNodes:    s.tree.Clone().Roots,
		ActiveFileID: active,
		Knowledge:    append([]models.KnowledgeEntry{}, s.knowledge...),
		Clipboard:    append([]models.ClipboardItem{}, s.clipboard...),
		Stats:        &stats,
	}
}

// saveState submits the current state. Called with mu held.
func (s *Session) saveState() {
	if err := s.writer.SubmitState(s.projectID, s.snapshot()); err != nil {
		logging.Warn("state not queued for saving", logging.Project(s.projectID), zap.Error(err))
	}
}

// saveChat submits the chat log. Called with mu held.
func (s *Session) saveChat() {
	if err := s.writer.SubmitChat(s.projectID, s.messages); err != nil {
		logging.Warn("chat not queued for saving", logging.Project(s.projectID), zap.Error(err))
	}
}

// ImportArchive replaces the tree with roots built from an archive. The
// active file is cleared.
func (s *Session) ImportArchive(roots []*models.FileNode) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tree = tree.New(roots).Clone()
	s.activeFileID = nil
	s.context = ""
	s.saveState()
}

// ImportFile adds a single uploaded file as a root named /name. Importing
// the same name again replaces the content of that file.
func (s *Session) ImportFile(name string, content []byte) (*models.FileNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	node := archive.ImportFile(name, content)
	if existing := s.tree.FindByPath(node.Path); existing != nil {
		if existing.IsDir() {
			return nil, fmt.Errorf("%s: %w", node.Path, tree.ErrFolderPath)
		}
		existing.Content = node.Content
		node = existing
	} else {
		s.tree.Roots = append(s.tree.Roots, node)
	}
	s.saveState()
	return node.Clone(), nil
}

// ToggleOpen flips a folder's expanded flag.
func (s *Session) ToggleOpen(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.tree.ToggleOpen(id)
	if next == s.tree {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	s.tree = next
	s.saveState()
	return nil
}

// SetActiveFile selects the file shown to the user. An empty id clears the
// selection.
func (s *Session) SetActiveFile(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		s.activeFileID = nil
		s.saveState()
		return nil
	}
	n := s.tree.FindByID(id)
	if n == nil || n.IsDir() {
		return fmt.Errorf("%s: %w", id, ErrNodeNotFound)
	}
	s.activeFileID = models.StringPtr(id)
	s.saveState()
	return nil
}

// ActiveFile returns a copy of the selected file, or nil.
func (s *Session) ActiveFile() *models.FileNode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeFile()
}

func (s *Session) activeFile() *models.FileNode {
	if s.activeFileID == nil {
		return nil
	}
	if n := s.tree.FindByID(*s.activeFileID); n != nil {
		return n.Clone()
	}
	return nil
}

// ApplyPathEdit replaces the content of the file at path, creating a root
// file when none exists. It reports whether a file was created. A folder
// path fails with tree.ErrFolderPath.
func (s *Session) ApplyPathEdit(path, content string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.tree.ApplyPathEdit(path, content)
	if err != nil {
		return false, err
	}
	s.saveState()
	return created, nil
}

// ApplyFileChanges applies the change list embedded in an assistant reply
// and returns the changes applied. Changes naming a folder are left out.
func (s *Session) ApplyFileChanges(reply string) ([]codec.FileChange, error) {
	changes, ok := codec.ParseFileChanges(reply)
	if !ok {
		return nil, ErrNoChanges
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created, skipped := s.tree.ApplyChanges(changes)
	if len(skipped) > 0 {
		paths := make([]string, len(skipped))
		for i, ch := range skipped {
			paths[i] = ch.Path
		}
		logging.Warn("skipped file changes on folders",
			logging.Project(s.projectID),
			zap.Strings("paths", paths))
		changes = applied(changes, skipped)
	}
	logging.Info("applied file changes",
		logging.Project(s.projectID),
		zap.Int("changes", len(changes)),
		zap.Int("created", created))
	s.saveState()
	return changes, nil
}

func applied(changes, skipped []codec.FileChange) []codec.FileChange {
	out := make([]codec.FileChange, 0, len(changes)-len(skipped))
	i := 0
	for _, ch := range changes {
		if i < len(skipped) && ch == skipped[i] {
			i++
			continue
		}
		out = append(out, ch)
	}
	return out
}

// ExtractText concatenates every text file of the tree. The result is kept
// as the project context sent with later questions.
func (s *Session) ExtractText() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text, count := s.tree.ExtractTextCount()
	s.context = text
	return text, count
}

// SetTaskCount records the number of plan tasks for the stats.
func (s *Session) SetTaskCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n < 0 {
		n = 0
	}
	s.taskCount = n
	s.saveState()
}

// Flush waits for pending saves.
func (s *Session) Flush(ctx context.Context) error {
	return s.writer.Flush(ctx)
}

// Close flushes pending saves. The writer stays usable for other sessions.
func (s *Session) Close(ctx context.Context) error {
	if err := s.writer.Flush(ctx); err != nil {
		return fmt.Errorf("close project %s: %w", s.projectID, err)
	}
	logging.Debug("project closed", logging.Project(s.projectID))
	return nil
}

func newID() string {
	return uuid.NewString()
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
