package models

import "time"

// StopReason explains why a run ended.
type StopReason string

const (
	StopCompleted         StopReason = "completed"
	StopRecordBudget      StopReason = "record_budget"
	StopTimeBudget        StopReason = "time_budget"
	StopSourceUnavailable StopReason = "source_unavailable"
	StopStoreUnavailable  StopReason = "store_unavailable"
	StopCanceled          StopReason = "canceled"
)

// maxErrorSamples bounds how many error messages a summary keeps.
const maxErrorSamples = 20

// RunSummary is the outcome of one ingestion run for one source. It is persisted to
// ingestion_runs.
type RunSummary struct {
	ID         uint       `gorm:"primaryKey" json:"-"`
	RunID      string     `gorm:"type:varchar(36);uniqueIndex;not null" json:"run_id"`
	Source     Source     `gorm:"type:varchar(16);index;not null" json:"source"`
	StartedAt  time.Time  `gorm:"index" json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Attempted  int        `json:"attempted"`
	Inserted   int        `json:"inserted"`
	Updated    int        `json:"updated"`
	Unchanged  int        `json:"unchanged"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	StopReason StopReason `gorm:"type:varchar(32)" json:"stop_reason"`
	Errors     []string   `gorm:"serializer:json" json:"errors,omitempty"`

	// SkippedSelectors counts selectors or batches dropped after a scoped failure
	SkippedSelectors int `json:"skipped_selectors"`
}

func (RunSummary) TableName() string {
	return "ingestion_runs"
}

// AddError keeps a bounded sample of failure messages.
func (s *RunSummary) AddError(msg string) {
	if len(s.Errors) < maxErrorSamples {
		s.Errors = append(s.Errors, msg)
	}
}

// EnrichCursor resumes an image enrichment pass after the last property id seen.
type EnrichCursor struct {
	AfterID uint `json:"after_id"`
}

// EnrichSummary is the outcome of one image enrichment pass.
type EnrichSummary struct {
	Attempted  int          `json:"attempted"`
	Resolved   int          `json:"resolved"`
	NotFound   int          `json:"not_found"`
	Failed     int          `json:"failed"`
	StopReason StopReason   `json:"stop_reason"`
	NextCursor EnrichCursor `json:"next_cursor"`
}
