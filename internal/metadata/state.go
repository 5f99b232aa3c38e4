package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/metrics"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
)

// SaveResult reports the node churn of a save.
type SaveResult struct {
	Upserted int
	Deleted  int
}

// SaveState persists a full project snapshot in one transaction.
//
// Every submitted node is upserted by id and every stored node of the
// project that was not submitted is deleted. A non-empty knowledge base
// string replaces all stored entries; an empty one leaves them as they
// are. A nil clipboard leaves the stored clipboard as it is.
func (s *Store) SaveState(ctx context.Context, projectID string, req *protocol.SaveStateRequest) (res SaveResult, err error) {
	defer observe("save_state", time.Now())
	defer func() { metrics.RecordStateSave(err == nil, res.Upserted, res.Deleted) }()

	if err := models.ValidateForest(req.RootNodes); err != nil {
		return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	records := codec.Flatten(req.RootNodes)
	if s.opts.LegacyClipboardNode && req.ClipboardItems != nil {
		records, err = codec.FlattenWithClipboard(projectID, req.RootNodes, req.ClipboardItems)
		if err != nil {
			return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.touchProject(ctx, tx, projectID, req.Stats); err != nil {
			return err
		}
		if req.KnowledgeBase != "" {
			if err := s.replaceKnowledge(ctx, tx, projectID, codec.DecodeKnowledge(req.KnowledgeBase)); err != nil {
				return err
			}
		}

		r, err := s.reconcileNodes(ctx, tx, projectID, records, req.ClipboardItems == nil)
		if err != nil {
			return err
		}
		res = r

		if !s.opts.LegacyClipboardNode && req.ClipboardItems != nil {
			if err := s.replaceClipboard(ctx, tx, projectID, req.ClipboardItems); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SaveResult{}, err
	}

	logging.Debug("state saved", logging.Project(projectID),
		zap.Int("upserted", res.Upserted), zap.Int("deleted", res.Deleted))
	return res, nil
}

// reconcileNodes upserts records and deletes stored nodes absent from them.
// keepSentinel preserves a stored clipboard sentinel that was not
// resubmitted.
func (s *Store) reconcileNodes(ctx context.Context, tx *sql.Tx, projectID string, records []codec.Record, keepSentinel bool) (SaveResult, error) {
	existing := make(map[string]bool)
	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT id, name FROM file_nodes WHERE project_id = ?`), projectID)
	if err != nil {
		return SaveResult{}, fmt.Errorf("query node ids: %w", err)
	}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			rows.Close()
			return SaveResult{}, fmt.Errorf("scan node id: %w", err)
		}
		existing[id] = keepSentinel && name == codec.SentinelName
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return SaveResult{}, err
	}

	now := toMillis(s.now())
	upsert := s.rebind(`INSERT INTO file_nodes
		(project_id, id, parent_id, name, type, path, content, is_open, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE SET
			parent_id = excluded.parent_id,
			name = excluded.name,
			type = excluded.type,
			path = excluded.path,
			content = excluded.content,
			is_open = excluded.is_open,
			position = excluded.position,
			updated_at = excluded.updated_at`)

	submitted := make(map[string]bool, len(records))
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, upsert,
			projectID, r.ID, nullable(r.ParentID), r.Name, string(r.Type), r.Path,
			nullable(r.Content), r.IsOpen, r.Position, now); err != nil {
			return SaveResult{}, fmt.Errorf("upsert node %s: %w", r.ID, err)
		}
		submitted[r.ID] = true
	}

	res := SaveResult{Upserted: len(records)}
	del := s.rebind(`DELETE FROM file_nodes WHERE project_id = ? AND id = ?`)
	for id, keep := range existing {
		if submitted[id] || keep {
			continue
		}
		if _, err := tx.ExecContext(ctx, del, projectID, id); err != nil {
			return SaveResult{}, fmt.Errorf("delete node %s: %w", id, err)
		}
		res.Deleted++
	}
	return res, nil
}

func (s *Store) replaceKnowledge(ctx context.Context, tx *sql.Tx, projectID string, entries []models.KnowledgeEntry) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM knowledge_entries WHERE project_id = ?`), projectID); err != nil {
		return fmt.Errorf("clear knowledge: %w", err)
	}
	insert := s.rebind(`INSERT INTO knowledge_entries
		(project_id, id, title, content, category, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if _, err := tx.ExecContext(ctx, insert,
			projectID, e.ID, e.Title, e.Content, string(e.Category), i, toMillis(e.UpdatedAt)); err != nil {
			return fmt.Errorf("insert knowledge %s: %w", e.ID, err)
		}
	}
	return nil
}

func (s *Store) replaceClipboard(ctx context.Context, tx *sql.Tx, projectID string, items []models.ClipboardItem) error {
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM clipboard_items WHERE project_id = ?`), projectID); err != nil {
		return fmt.Errorf("clear clipboard: %w", err)
	}
	insert := s.rebind(`INSERT INTO clipboard_items
		(project_id, id, content, type, summary, relevance, timestamp, pipeline_stage, url, tool_name, linked_plan_node_id, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	seen := make(map[string]bool, len(items))
	for i, it := range items {
		if seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		var url, tool string
		if it.Metadata != nil {
			url, tool = it.Metadata.URL, it.Metadata.ToolName
		}
		if _, err := tx.ExecContext(ctx, insert,
			projectID, it.ID, it.Content, string(it.Type), it.Summary, string(it.Relevance),
			toMillis(it.Timestamp), it.PipelineStage, url, tool, it.LinkedPlanNodeID, i); err != nil {
			return fmt.Errorf("insert clipboard item %s: %w", it.ID, err)
		}
	}
	return nil
}

// LoadState returns the stored snapshot of a project. The clipboard
// sentinel never appears in RootNodes.
func (s *Store) LoadState(ctx context.Context, projectID string) (resp *protocol.StateResponse, err error) {
	defer observe("load_state", time.Now())
	defer func() { metrics.RecordStateLoad(err == nil) }()

	exists, err := s.projectExists(ctx, s.db, projectID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", projectID, ErrNotFound)
	}

	records, err := s.loadRecords(ctx, projectID)
	if err != nil {
		return nil, err
	}
	roots, sentinelClipboard := codec.Rebuild(records)

	knowledge, err := s.loadKnowledge(ctx, projectID)
	if err != nil {
		return nil, err
	}

	clipboard := sentinelClipboard
	if !s.opts.LegacyClipboardNode {
		items, err := s.loadClipboard(ctx, projectID)
		if err != nil {
			return nil, err
		}
		if len(items) > 0 {
			clipboard = items
		}
	}

	return &protocol.StateResponse{
		RootNodes:      roots,
		ActiveFileID:   nil,
		KnowledgeBase:  codec.EncodeKnowledge(knowledge),
		ClipboardItems: clipboard,
	}, nil
}

func (s *Store) loadRecords(ctx context.Context, projectID string) ([]codec.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, parent_id, name, type, path, content, is_open, position
		FROM file_nodes WHERE project_id = ? ORDER BY position, id`), projectID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var out []codec.Record
	for rows.Next() {
		var (
			r       codec.Record
			parent  sql.NullString
			content sql.NullString
			typ     string
		)
		if err := rows.Scan(&r.ID, &parent, &r.Name, &typ, &r.Path, &content, &r.IsOpen, &r.Position); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		r.Type = models.NodeType(typ)
		r.ParentID = stringPtr(parent)
		r.Content = stringPtr(content)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) loadKnowledge(ctx context.Context, projectID string) ([]models.KnowledgeEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, title, content, category, updated_at
		FROM knowledge_entries WHERE project_id = ? ORDER BY position, id`), projectID)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	out := []models.KnowledgeEntry{}
	for rows.Next() {
		var (
			e        models.KnowledgeEntry
			category string
			updated  int64
		)
		if err := rows.Scan(&e.ID, &e.Title, &e.Content, &category, &updated); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		e.Category = models.NormalizeCategory(category)
		e.UpdatedAt = fromMillis(updated)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) loadClipboard(ctx context.Context, projectID string) ([]models.ClipboardItem, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id, content, type, summary, relevance, timestamp,
		pipeline_stage, url, tool_name, linked_plan_node_id
		FROM clipboard_items WHERE project_id = ? ORDER BY position, id`), projectID)
	if err != nil {
		return nil, fmt.Errorf("query clipboard: %w", err)
	}
	defer rows.Close()

	out := []models.ClipboardItem{}
	for rows.Next() {
		var (
			it             models.ClipboardItem
			typ, relevance string
			ts             int64
			url, tool      string
		)
		if err := rows.Scan(&it.ID, &it.Content, &typ, &it.Summary, &relevance, &ts,
			&it.PipelineStage, &url, &tool, &it.LinkedPlanNodeID); err != nil {
			return nil, fmt.Errorf("scan clipboard item: %w", err)
		}
		it.Type = models.ClipboardCategory(typ)
		it.Relevance = models.Relevance(relevance)
		it.Timestamp = fromMillis(ts)
		if url != "" || tool != "" {
			it.Metadata = &models.ClipboardMetadata{URL: url, ToolName: tool}
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
