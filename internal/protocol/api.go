// Package protocol defines the API request/response types.
package protocol

import (
	"github.com/vibecode/vibecode/internal/models"
)

// SaveStateRequest is the body for POST /api/v1/projects/{id}/state.
// KnowledgeBase is the encoded knowledge-base string; an empty string
// leaves the stored entries untouched. ActiveFileID is kept by the local
// store only.
type SaveStateRequest struct {
	RootNodes      []*models.FileNode     `json:"rootNodes"`
	ActiveFileID   *string                `json:"activeFileId,omitempty"`
	KnowledgeBase  string                 `json:"knowledgeBase"`
	ClipboardItems []models.ClipboardItem `json:"clipboardItems"`
	Stats          *models.ProjectStats   `json:"stats,omitempty"`
}

// StateResponse is returned by GET /api/v1/projects/{id}/state.
// ActiveFileID is always null from the remote store.
type StateResponse struct {
	RootNodes      []*models.FileNode     `json:"rootNodes"`
	ActiveFileID   *string                `json:"activeFileId"`
	KnowledgeBase  string                 `json:"knowledgeBase"`
	ClipboardItems []models.ClipboardItem `json:"clipboardItems"`
}

// ChatRequest is the body for POST /api/v1/projects/{id}/chat.
type ChatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

// ChatSaveResponse reports how many submitted messages were new.
type ChatSaveResponse struct {
	Success  bool `json:"success"`
	Inserted int  `json:"inserted"`
}

// CreateProjectRequest is the body for POST /api/v1/projects.
type CreateProjectRequest struct {
	ID          string  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// SuccessResponse acknowledges a write.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// ArchiveResponse is returned by PUT /api/v1/projects/{id}/archive.
type ArchiveResponse struct {
	Key   string `json:"key"`
	Size  int64  `json:"size"`
	Nodes int    `json:"nodes"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ErrorResponse is returned on API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Details string `json:"details,omitempty"`
}
