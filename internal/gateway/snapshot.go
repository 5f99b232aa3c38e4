package gateway

import (
	"encoding/json"

	"github.com/zeebo/xxh3"

	"github.com/vibecode/vibecode/internal/codec"
	"github.com/vibecode/vibecode/internal/models"
	"github.com/vibecode/vibecode/internal/protocol"
)

// Snapshot is everything persisted by a state save.
type Snapshot struct {
	RootNodes    []*models.FileNode
	ActiveFileID *string
	// Knowledge and Clipboard left nil keep what is stored; an empty
	// non-nil slice clears it.
	Knowledge []models.KnowledgeEntry
	Clipboard []models.ClipboardItem
	Stats     *models.ProjectStats
}

// Request converts the snapshot to the wire form.
func (s Snapshot) Request() *protocol.SaveStateRequest {
	roots := s.RootNodes
	if roots == nil {
		roots = []*models.FileNode{}
	}
	kb := ""
	if s.Knowledge != nil {
		kb = codec.EncodeKnowledge(s.Knowledge)
	}
	return &protocol.SaveStateRequest{
		RootNodes:      roots,
		ActiveFileID:   s.ActiveFileID,
		KnowledgeBase:  kb,
		ClipboardItems: s.Clipboard,
		Stats:          s.Stats,
	}
}

// Fingerprint hashes the snapshot's wire form. Equal snapshots have equal
// fingerprints.
func (s Snapshot) Fingerprint() uint64 {
	return fingerprint(s.Request())
}

func fingerprint(v any) uint64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return xxh3.Hash(data)
}

// State is a loaded project.
type State struct {
	RootNodes    []*models.FileNode
	ActiveFileID *string
	Knowledge    []models.KnowledgeEntry
	Clipboard    []models.ClipboardItem
	// Source is the backend that served the load.
	Source Outcome
}

func stateFrom(resp *protocol.StateResponse, source Outcome) *State {
	roots := codec.StripSentinel(resp.RootNodes)
	clipboard := resp.ClipboardItems
	if clipboard == nil {
		clipboard = []models.ClipboardItem{}
	}
	return &State{
		RootNodes:    roots,
		ActiveFileID: resp.ActiveFileID,
		Knowledge:    codec.DecodeKnowledge(resp.KnowledgeBase),
		Clipboard:    clipboard,
		Source:       source,
	}
}
