package models

import (
	"strings"
	"time"
)

// ProjectStats is derived from a project's collections on every save.
type ProjectStats struct {
	FilesCount int `json:"filesCount"`
	ChatsCount int `json:"chatsCount"`
	TasksCount int `json:"tasksCount"`
}

// ProjectMetadata describes a project in the registry.
type ProjectMetadata struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description *string      `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastOpened  time.Time    `json:"lastOpened"`
	Stats       ProjectStats `json:"stats"`
}

// KnowledgeCategory groups knowledge entries.
type KnowledgeCategory string

const (
	CategoryBusiness  KnowledgeCategory = "business"
	CategoryTechnical KnowledgeCategory = "technical"
	CategoryUser      KnowledgeCategory = "user"
	CategoryGeneral   KnowledgeCategory = "general"
)

// NormalizeCategory maps unknown or empty categories to general.
func NormalizeCategory(c string) KnowledgeCategory {
	switch KnowledgeCategory(strings.ToLower(strings.TrimSpace(c))) {
	case CategoryBusiness:
		return CategoryBusiness
	case CategoryTechnical:
		return CategoryTechnical
	case CategoryUser:
		return CategoryUser
	default:
		return CategoryGeneral
	}
}

// KnowledgeEntry is one note of a project's knowledge base.
type KnowledgeEntry struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Category  KnowledgeCategory `json:"category"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// ChatRole is the author of a chat message.
type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

// ChatMessage is one entry of a project's append-only chat log.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      ChatRole  `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
