package score

import (
	"time"

	"gorm.io/datatypes"
)

// ContentItem carries the engagement counters and boost anchors a pop score
// is derived from. PopScore and CompletenessScore are caches.
type ContentItem struct {
	ID            string `gorm:"column:id;primaryKey" json:"id"`
	OwnerID       string `gorm:"column:owner_id;index" json:"owner_id"`
	Clicks        int64  `gorm:"column:clicks;not null;default:0" json:"clicks"`
	LikesCount    int64  `gorm:"column:likes_count;not null;default:0" json:"likes_count"`
	CommentsCount int64  `gorm:"column:comments_count;not null;default:0" json:"comments_count"`

	Title          string                      `gorm:"column:title" json:"title"`
	Description    string                      `gorm:"column:description" json:"description,omitempty"`
	Tags           datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags,omitempty"`
	Model          string                      `gorm:"column:model" json:"model,omitempty"`
	Prompt         string                      `gorm:"column:prompt" json:"prompt,omitempty"`
	NegativePrompt string                      `gorm:"column:negative_prompt" json:"negative_prompt,omitempty"`
	Sampler        string                      `gorm:"column:sampler" json:"sampler,omitempty"`
	Steps          int                         `gorm:"column:steps" json:"steps,omitempty"`
	CfgScale       float64                     `gorm:"column:cfg_scale" json:"cfg_scale,omitempty"`
	Seed           *int64                      `gorm:"column:seed" json:"seed,omitempty"`
	Width          int                         `gorm:"column:width" json:"width,omitempty"`
	Height         int                         `gorm:"column:height" json:"height,omitempty"`

	CompletenessScore float64    `gorm:"column:completeness_score;not null;default:0" json:"completeness_score"`
	InitialBoost      float64    `gorm:"column:initial_boost;not null;default:0" json:"initial_boost"`
	PowerUsed         bool       `gorm:"column:power_used;not null;default:false" json:"power_used"`
	PowerUsedAt       *time.Time `gorm:"column:power_used_at" json:"power_used_at,omitempty"`
	PowerExpiry       *time.Time `gorm:"column:power_expiry" json:"power_expiry,omitempty"`
	PopScore          float64    `gorm:"column:pop_score;not null;default:0;index" json:"pop_score"`
	ScoredAt          *time.Time `gorm:"column:scored_at" json:"scored_at,omitempty"`
	CreatedAt         time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (ContentItem) TableName() string { return "content_items" }

// ContentLike is the authoritative likes collection; LikesCount caches its
// size per item.
type ContentLike struct {
	ID        string    `gorm:"column:id;primaryKey"`
	ContentID string    `gorm:"column:content_id;not null;uniqueIndex:idx_content_likes_content_user"`
	UserID    string    `gorm:"column:user_id;not null;uniqueIndex:idx_content_likes_content_user"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (ContentLike) TableName() string { return "content_likes" }

type CreateRequest struct {
	OwnerID      string   `json:"owner_id"`
	InitialBoost *float64 `json:"initial_boost,omitempty"`
	Metadata
}

// Metadata holds the descriptive fields. Nil pointers are left unchanged on
// update.
type Metadata struct {
	Title          *string   `json:"title,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	Model          *string   `json:"model,omitempty"`
	Prompt         *string   `json:"prompt,omitempty"`
	NegativePrompt *string   `json:"negative_prompt,omitempty"`
	Sampler        *string   `json:"sampler,omitempty"`
	Steps          *int      `json:"steps,omitempty"`
	CfgScale       *float64  `json:"cfg_scale,omitempty"`
	Seed           *int64    `json:"seed,omitempty"`
	Width          *int      `json:"width,omitempty"`
	Height         *int      `json:"height,omitempty"`
}

func (m Metadata) apply(item *ContentItem) {
	if m.Title != nil {
		item.Title = *m.Title
	}
	if m.Description != nil {
		item.Description = *m.Description
	}
	if m.Tags != nil {
		item.Tags = *m.Tags
	}
	if m.Model != nil {
		item.Model = *m.Model
	}
	if m.Prompt != nil {
		item.Prompt = *m.Prompt
	}
	if m.NegativePrompt != nil {
		item.NegativePrompt = *m.NegativePrompt
	}
	if m.Sampler != nil {
		item.Sampler = *m.Sampler
	}
	if m.Steps != nil {
		item.Steps = *m.Steps
	}
	if m.CfgScale != nil {
		item.CfgScale = *m.CfgScale
	}
	if m.Seed != nil {
		seed := *m.Seed
		item.Seed = &seed
	}
	if m.Width != nil {
		item.Width = *m.Width
	}
	if m.Height != nil {
		item.Height = *m.Height
	}
}

type PageResult struct {
	NextCursor string `json:"next_cursor,omitempty"`
	Processed  int    `json:"processed"`
	Skipped    int    `json:"skipped"`
}

type RankedItem struct {
	ContentID string  `json:"content_id"`
	PopScore  float64 `json:"pop_score"`
}
