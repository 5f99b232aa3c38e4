package metadata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/models"
)

const projectColumns = `id, name, description, created_at, last_opened, files_count, chats_count, tasks_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(r rowScanner) (*models.ProjectMetadata, error) {
	var (
		p                   models.ProjectMetadata
		desc                sql.NullString
		created, lastOpened int64
	)
	if err := r.Scan(&p.ID, &p.Name, &desc, &created, &lastOpened,
		&p.Stats.FilesCount, &p.Stats.ChatsCount, &p.Stats.TasksCount); err != nil {
		return nil, err
	}
	p.Description = stringPtr(desc)
	p.CreatedAt = fromMillis(created)
	p.LastOpened = fromMillis(lastOpened)
	return &p, nil
}

// ListProjects returns every project, most recently opened first.
func (s *Store) ListProjects(ctx context.Context) ([]models.ProjectMetadata, error) {
	defer observe("list_projects", time.Now())

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+projectColumns+` FROM projects ORDER BY last_opened DESC, created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer rows.Close()

	out := []models.ProjectMetadata{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// GetProject returns one project or ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (*models.ProjectMetadata, error) {
	defer observe("get_project", time.Now())

	p, err := scanProject(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+projectColumns+` FROM projects WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query project: %w", err)
	}
	return p, nil
}

// CreateProject registers a project. An empty id gets a fresh one; a blank
// name is rejected with ErrInvalid and a taken id with ErrConflict.
func (s *Store) CreateProject(ctx context.Context, id, name string, description *string) (*models.ProjectMetadata, error) {
	defer observe("create_project", time.Now())

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required: %w", ErrInvalid)
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now().UTC().Truncate(time.Millisecond)
	p := &models.ProjectMetadata{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedAt:   now,
		LastOpened:  now,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := s.projectExists(ctx, tx, id)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("%s: %w", id, ErrConflict)
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, 0, 0, 0)`),
			p.ID, p.Name, nullable(p.Description), toMillis(now), toMillis(now))
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Info("project created", logging.Project(p.ID), zap.String("name", p.Name))
	return p, nil
}

// DeleteProject removes a project and everything stored under it in one
// transaction. A missing project is ErrNotFound.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	defer observe("delete_project", time.Now())

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"file_nodes", "knowledge_entries", "clipboard_items", "chat_messages"} {
			if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE project_id = ?`), id); err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
		}
		res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM projects WHERE id = ?`), id)
		if err != nil {
			return fmt.Errorf("delete project: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logging.Info("project deleted", logging.Project(id))
	return nil
}

// touchProject bumps last_opened and, when given, the stats. It reports
// ErrNotFound for an unknown project.
func (s *Store) touchProject(ctx context.Context, tx *sql.Tx, id string, stats *models.ProjectStats) error {
	now := toMillis(s.now())
	var (
		res sql.Result
		err error
	)
	if stats != nil {
		res, err = tx.ExecContext(ctx,
			s.rebind(`UPDATE projects SET last_opened = ?, files_count = ?, chats_count = ?, tasks_count = ? WHERE id = ?`),
			now, stats.FilesCount, stats.ChatsCount, stats.TasksCount, id)
	} else {
		res, err = tx.ExecContext(ctx, s.rebind(`UPDATE projects SET last_opened = ? WHERE id = ?`), now, id)
	}
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) projectExists(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM projects WHERE id = ?`), id).Scan(&n); err != nil {
		return false, fmt.Errorf("check project: %w", err)
	}
	return n > 0, nil
}
