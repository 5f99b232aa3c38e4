// Package localstore is the embedded fallback store: one SQLite file holding
// a record per project in each of four containers.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
)

// SchemaVersion is stored in PRAGMA user_version.
const SchemaVersion = 4

// Containers, keyed by project id.
const (
	tableProjects  = "projects_meta"
	tableFiles     = "files_store"
	tableClipboard = "clipboard_store"
	tableChat      = "chat_store"
)

var containers = []string{tableProjects, tableFiles, tableClipboard, tableChat}

// ErrNotFound is returned when a project has no local record.
var ErrNotFound = errors.New("project not found locally")

// projectData is the files_store record.
type projectData struct {
	ProjectID     string             `json:"projectId"`
	RootNodes     []*models.FileNode `json:"rootNodes"`
	ActiveFileID  *string            `json:"activeFileId"`
	KnowledgeBase string             `json:"knowledgeBase"`
}

// chatData is the chat_store record.
type chatData struct {
	ProjectID string               `json:"projectId"`
	Messages  []models.ChatMessage `json:"messages"`
}

// Store is the local embedded store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens or creates the store at path. ":memory:" keeps it in memory.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := "file::memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create local store directory: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate creates missing containers when the stored schema version is
// older than SchemaVersion.
func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= SchemaVersion {
		return nil
	}

	logging.Info("upgrading local store",
		zap.String("path", s.path), zap.Int("from", version), zap.Int("to", SchemaVersion))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range containers {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
			project_id TEXT PRIMARY KEY,
			data       TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)`); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, SchemaVersion)); err != nil {
		return fmt.Errorf("set schema version: %w", err)
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) put(ctx context.Context, q execer, table, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", table, err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO `+table+` (project_id, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, string(data), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("write %s record: %w", table, err)
	}
	return nil
}

// get decodes the record into v and reports whether it existed.
func (s *Store) get(ctx context.Context, q execer, table, key string, v any) (bool, error) {
	var data string
	err := q.QueryRowContext(ctx, `SELECT data FROM `+table+` WHERE project_id = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s record: %w", table, err)
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return false, fmt.Errorf("decode %s record: %w", table, err)
	}
	return true, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// SaveProject writes a project's metadata record.
func (s *Store) SaveProject(ctx context.Context, p models.ProjectMetadata) error {
	return s.put(ctx, s.db, tableProjects, p.ID, p)
}

// GetProject returns a project's metadata record.
func (s *Store) GetProject(ctx context.Context, id string) (*models.ProjectMetadata, error) {
	var p models.ProjectMetadata
	ok, err := s.get(ctx, s.db, tableProjects, id, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &p, nil
}

// ListProjects returns every local project, most recently opened first.
func (s *Store) ListProjects(ctx context.Context) ([]models.ProjectMetadata, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM `+tableProjects)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	out := []models.ProjectMetadata{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		var p models.ProjectMetadata
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			logging.Warn("skipping unreadable local project record", zap.Error(err))
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastOpened.After(out[j].LastOpened) })
	return out, nil
}

// DeleteProject removes all four records of a project in one transaction.
// It reports ErrNotFound when none existed.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var removed int64
		for _, table := range containers {
			res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE project_id = ?`, id)
			if err != nil {
				return fmt.Errorf("delete %s record: %w", table, err)
			}
			n, _ := res.RowsAffected()
			removed += n
		}
		if removed == 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// SaveState writes a project snapshot. An empty knowledge base string keeps
// the stored one and a nil clipboard keeps the stored clipboard. The
// project's metadata record, when present, gets its last-opened time and
// stats refreshed.
func (s *Store) SaveState(ctx context.Context, projectID string, req *protocol.SaveStateRequest) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var prev projectData
		if _, err := s.get(ctx, tx, tableFiles, projectID, &prev); err != nil {
			return err
		}

		data := projectData{
			ProjectID:     projectID,
			RootNodes:     codec.StripSentinel(req.RootNodes),
			ActiveFileID:  req.ActiveFileID,
			KnowledgeBase: req.KnowledgeBase,
		}
		if data.RootNodes == nil {
			data.RootNodes = []*models.FileNode{}
		}
		if data.KnowledgeBase == "" {
			data.KnowledgeBase = prev.KnowledgeBase
		}
		if err := s.put(ctx, tx, tableFiles, projectID, data); err != nil {
			return err
		}

		if req.ClipboardItems != nil {
			if err := s.put(ctx, tx, tableClipboard, projectID, req.ClipboardItems); err != nil {
				return err
			}
		}

		var meta models.ProjectMetadata
		ok, err := s.get(ctx, tx, tableProjects, projectID, &meta)
		if err != nil || !ok {
			return err
		}
		meta.LastOpened = s.now().UTC()
		if req.Stats != nil {
			meta.Stats = *req.Stats
		}
		return s.put(ctx, tx, tableProjects, projectID, meta)
	})
}

// LoadState returns the stored snapshot. A project with metadata but no
// saved files loads as empty; a project with neither is ErrNotFound.
func (s *Store) LoadState(ctx context.Context, projectID string) (*protocol.StateResponse, error) {
	var data projectData
	ok, err := s.get(ctx, s.db, tableFiles, projectID, &data)
	if err != nil {
		return nil, err
	}
	if !ok {
		if _, err := s.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
	}

	clipboard := []models.ClipboardItem{}
	if _, err := s.get(ctx, s.db, tableClipboard, projectID, &clipboard); err != nil {
		return nil, err
	}
	if clipboard == nil {
		clipboard = []models.ClipboardItem{}
	}

	roots := codec.StripSentinel(data.RootNodes)
	kb := data.KnowledgeBase
	if kb == "" {
		kb = "[]"
	}
	return &protocol.StateResponse{
		RootNodes:      roots,
		ActiveFileID:   data.ActiveFileID,
		KnowledgeBase:  kb,
		ClipboardItems: clipboard,
	}, nil
}

// SaveChat merges messages into the stored log by id and returns how many
// were new. Stored messages are never changed.
func (s *Store) SaveChat(ctx context.Context, projectID string, messages []models.ChatMessage) (int, error) {
	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var log chatData
		if _, err := s.get(ctx, tx, tableChat, projectID, &log); err != nil {
			return err
		}
		seen := make(map[string]bool, len(log.Messages))
		for _, m := range log.Messages {
			seen[m.ID] = true
		}
		for _, m := range messages {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			log.Messages = append(log.Messages, m)
			inserted++
		}
		if inserted == 0 {
			return nil
		}
		log.ProjectID = projectID
		return s.put(ctx, tx, tableChat, projectID, log)
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// LoadChat returns the stored chat log, empty when there is none.
func (s *Store) LoadChat(ctx context.Context, projectID string) ([]models.ChatMessage, error) {
	var log chatData
	if _, err := s.get(ctx, s.db, tableChat, projectID, &log); err != nil {
		return nil, err
	}
	if log.Messages == nil {
		return []models.ChatMessage{}, nil
	}
	return log.Messages, nil
}
