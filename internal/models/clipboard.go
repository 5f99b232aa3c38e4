package models

import "time"

// ClipboardCategory classifies a clipboard item.
type ClipboardCategory string

const (
	ClipIdea          ClipboardCategory = "idea"
	ClipPromptTool    ClipboardCategory = "prompt_tool"
	ClipPromptHelper  ClipboardCategory = "prompt_helper"
	ClipLinkTool      ClipboardCategory = "link_tool"
	ClipLinkArticle   ClipboardCategory = "link_article"
	ClipLinkVideo     ClipboardCategory = "link_video"
	ClipVideoTutorial ClipboardCategory = "video_tutorial"
	ClipIrrelevant    ClipboardCategory = "irrelevant"
)

// Relevance ranks a clipboard item.
type Relevance string

const (
	RelevanceHigh   Relevance = "high"
	RelevanceMedium Relevance = "medium"
	RelevanceLow    Relevance = "low"
)

// ClipboardMetadata carries optional source details.
type ClipboardMetadata struct {
	URL      string `json:"url,omitempty"`
	ToolName string `json:"toolName,omitempty"`
}

// ClipboardItem is one triaged snippet on a project's clipboard.
type ClipboardItem struct {
	ID               string             `json:"id"`
	Content          string             `json:"content"`
	Type             ClipboardCategory  `json:"type"`
	Summary          string             `json:"summary"`
	Relevance        Relevance          `json:"relevance"`
	Timestamp        time.Time          `json:"timestamp"`
	PipelineStage    string             `json:"pipelineStage,omitempty"`
	Metadata         *ClipboardMetadata `json:"metadata,omitempty"`
	LinkedPlanNodeID string             `json:"linkedPlanNodeId,omitempty"`
}
