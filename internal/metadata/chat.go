package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/metrics"
	"github.com/vibecode/vibecode/internal/models"
)

// SaveChat appends the messages whose id is not stored yet and returns how
// many were inserted. Stored messages are never updated or removed.
func (s *Store) SaveChat(ctx context.Context, projectID string, messages []models.ChatMessage) (int, error) {
	defer observe("save_chat", time.Now())

	inserted := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		exists, err := s.projectExists(ctx, tx, projectID)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%s: %w", projectID, ErrNotFound)
		}

		var seq int64
		if err := tx.QueryRowContext(ctx,
			s.rebind(`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE project_id = ?`), projectID).Scan(&seq); err != nil {
			return fmt.Errorf("query chat seq: %w", err)
		}

		insert := s.rebind(`INSERT INTO chat_messages (project_id, id, role, text, timestamp, seq)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (project_id, id) DO NOTHING`)
		for _, m := range messages {
			if m.ID == "" {
				m.ID = uuid.NewString()
			}
			if m.Timestamp.IsZero() {
				m.Timestamp = s.now()
			}
			seq++
			res, err := tx.ExecContext(ctx, insert, projectID, m.ID, string(m.Role), m.Text, toMillis(m.Timestamp), seq)
			if err != nil {
				return fmt.Errorf("insert chat message %s: %w", m.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordChatInserts(inserted)
	logging.Debug("chat saved", logging.Project(projectID),
		logging.Int("submitted", len(messages)), logging.Int("inserted", inserted))
	return inserted, nil
}

// LoadChat returns the chat log ordered by timestamp, then insertion.
func (s *Store) LoadChat(ctx context.Context, projectID string) ([]models.ChatMessage, error) {
	defer observe("load_chat", time.Now())

	exists, err := s.projectExists(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", projectID, ErrNotFound)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, role, text, timestamp
		FROM chat_messages WHERE project_id = ? ORDER BY timestamp, seq`), projectID)
	if err != nil {
		return nil, fmt.Errorf("query chat: %w", err)
	}
	defer rows.Close()

	out := []models.ChatMessage{}
	for rows.Next() {
		var (
			m    models.ChatMessage
			role string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Text, &ts); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		m.Role = models.ChatRole(role)
		m.Timestamp = fromMillis(ts)
		out = append(out, m)
	}
	return out, rows.Err()
}
