package history

import (
	"time"
)

// Prediction modes and outcomes stored in PredictionRecord.
const (
	ModeBatch  = "batch"
	ModeStream = "stream"

	StatusOK               = "ok"
	StatusError            = "error"
	StatusValidationFailed = "validation_failed"
)

// PredictionRecord is one audited prediction: what was asked, what came back
// and how it parsed.
type PredictionRecord struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	TraceID      string         `gorm:"size:64;index" json:"trace_id"`
	Provider     string         `gorm:"size:64" json:"provider"`
	Model        string         `gorm:"size:128;index" json:"model"`
	Mode         string         `gorm:"size:16" json:"mode"`
	Instructions string         `gorm:"type:text" json:"instructions,omitempty"`
	Inputs       map[string]any `gorm:"serializer:json;type:text" json:"inputs"`
	Outputs      map[string]any `gorm:"serializer:json;type:text" json:"outputs,omitempty"`
	Reply        string         `gorm:"type:text" json:"reply"`
	Missing      []string       `gorm:"serializer:json;type:text" json:"missing,omitempty"`
	Fallbacks    []string       `gorm:"serializer:json;type:text" json:"fallbacks,omitempty"`
	PromptTokens int            `json:"prompt_tokens"`
	CacheHit     bool           `json:"cache_hit"`
	Status       string         `gorm:"size:32;index" json:"status"`
	Error        string         `gorm:"type:text" json:"error,omitempty"`
	DurationMs   int64          `json:"duration_ms"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
}

// TableName 返回表名
func (PredictionRecord) TableName() string {
	return "prediction_records"
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	TraceID string
	Model   string
	Status  string
	Since   time.Time
	Limit   int
}
