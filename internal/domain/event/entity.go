package event

import (
	"encoding/json"
	"time"
)

// State is the lifecycle state of an event.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateProcessed  State = "processed"
	StateFailed     State = "failed"
)

// Terminal reports whether s is a terminal state for the automatic flow.
// Terminal states are the only replayable ones.
func (s State) Terminal() bool {
	return s == StateProcessed || s == StateFailed
}

func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateProcessed, StateFailed:
		return true
	}
	return false
}

// Event is a single ingested occurrence. The payload is immutable after
// first insert; duplicate ingests only bump ReceivedCount.
type Event struct {
	ID                  int64           `json:"id"`
	ExternalID          string          `json:"external_id"`
	Type                string          `json:"type"`
	Payload             json.RawMessage `json:"payload"`
	State               State           `json:"state"`
	ReceivedCount       int             `json:"received_count"`
	CreatedAt           time.Time       `json:"created_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty"`
	ProcessedAt         *time.Time      `json:"processed_at,omitempty"`
	ReplayedAt          *time.Time      `json:"replayed_at,omitempty"`
}

// AttemptStatus is the outcome of one attempt. A NULL status means the
// attempt is still in flight.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// Attempt is one pass of the engine over one claim of an event.
type Attempt struct {
	ID         int64          `json:"id"`
	EventID    int64          `json:"event_id"`
	Status     *AttemptStatus `json:"status"`
	Error      *string        `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
}

// ListFilter narrows event list and stats queries.
type ListFilter struct {
	State     State
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// Stats aggregates event counts. FailedLast24h counts failures whose
// COALESCE(processed_at, created_at) falls in the last 24 hours, so
// failures that never completed still surface.
type Stats struct {
	Total         int64 `json:"total"`
	Pending       int64 `json:"pending"`
	Processing    int64 `json:"processing"`
	Processed     int64 `json:"processed"`
	Failed        int64 `json:"failed"`
	FailedLast24h int64 `json:"failed_last_24h"`
}
