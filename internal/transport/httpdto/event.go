package httpdto

import (
	"encoding/json"

	"eventflow/internal/domain/event"
	"eventflow/internal/repository"
)

// IngestRequest is the POST /events body. The caller-supplied id is
// the global dedup key.
type IngestRequest struct {
	ID   string          `json:"id" binding:"required"`
	Type string          `json:"type" binding:"required"`
	Data json.RawMessage `json:"data" binding:"required"`
}

type ListEventsResponse struct {
	Events []event.Event `json:"events"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type AttemptsResponse struct {
	EventID  int64                      `json:"event_id"`
	Attempts []repository.AttemptDetail `json:"attempts"`
}

type ReplayResponse struct {
	Event   event.Event `json:"event"`
	Warning string      `json:"warning"`
}

type ReplayBatchRequest struct {
	EventIDs []int64 `json:"event_ids" binding:"required"`
}

type ReplayBatchResponse struct {
	Requested int           `json:"requested"`
	Replayed  int           `json:"replayed"`
	Events    []event.Event `json:"events"`
	Warning   string        `json:"warning"`
}

type RequeueStuckRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

type RequeueStuckResponse struct {
	Requeued int           `json:"requeued"`
	Events   []event.Event `json:"events"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}
