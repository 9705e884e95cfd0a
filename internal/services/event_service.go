package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"eventflow/internal/domain/event"
	"eventflow/internal/repository"
	flow_errors "eventflow/pkg/errors"
	"eventflow/pkg/events"
	"eventflow/pkg/logger"
)

// ReplayWarning names the two documented replay hazards.
const ReplayWarning = "replay uses current rule versions (rule edits apply); non-idempotent actions already applied by the same rule version will be skipped"

const maxBatchSize = 100

// EventService is the ingest & replay surface over the event store.
type EventService struct {
	repo         repository.EventRepository
	broker       events.Publisher
	logger       *logger.Logger
	stuckTimeout time.Duration
}

func NewEventService(repo repository.EventRepository, broker events.Publisher, l *logger.Logger, stuckTimeout time.Duration) *EventService {
	return &EventService{
		repo:         repo,
		broker:       broker,
		logger:       l,
		stuckTimeout: stuckTimeout,
	}
}

// Ingest upserts by external id. Duplicates return the existing row
// with received_count incremented; nothing else changes.
func (s *EventService) Ingest(ctx context.Context, externalID, eventType string, payload json.RawMessage) (event.Event, error) {
	if externalID == "" {
		return event.Event{}, fmt.Errorf("%w: id is required", flow_errors.ErrInvalidInput)
	}
	if eventType == "" {
		return event.Event{}, fmt.Errorf("%w: type is required", flow_errors.ErrInvalidInput)
	}
	if !isJSONObject(payload) {
		return event.Event{}, fmt.Errorf("%w: data must be a JSON object", flow_errors.ErrInvalidInput)
	}

	e, err := s.repo.Ingest(ctx, externalID, eventType, payload)
	if err != nil {
		return event.Event{}, err
	}
	if e.ReceivedCount == 1 {
		s.NotifyEvent(e.ID, e.State)
	}
	return e, nil
}

func (s *EventService) GetByID(ctx context.Context, id int64) (event.Event, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *EventService) List(ctx context.Context, filter event.ListFilter) ([]event.Event, int64, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown state %q", flow_errors.ErrInvalidInput, filter.State)
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, 0, fmt.Errorf("%w: limit and offset must be non-negative", flow_errors.ErrInvalidInput)
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	return s.repo.List(ctx, filter)
}

func (s *EventService) Stats(ctx context.Context, filter event.ListFilter) (event.Stats, error) {
	if filter.State != "" && !filter.State.Valid() {
		return event.Stats{}, fmt.Errorf("%w: unknown state %q", flow_errors.ErrInvalidInput, filter.State)
	}
	return s.repo.Stats(ctx, filter)
}

func (s *EventService) GetAttempts(ctx context.Context, eventID int64) ([]repository.AttemptDetail, error) {
	return s.repo.GetAttempts(ctx, eventID)
}

// Replay returns a terminal event to the queue. The caller receives
// ReplayWarning alongside the updated row.
func (s *EventService) Replay(ctx context.Context, id int64) (event.Event, error) {
	e, err := s.repo.Replay(ctx, id)
	if err != nil {
		return event.Event{}, err
	}
	s.NotifyEvent(e.ID, e.State)
	return e, nil
}

// ReplayBatch requeues the subset of ids currently in a terminal
// state; ids outside that subset are silently excluded.
func (s *EventService) ReplayBatch(ctx context.Context, ids []int64) ([]event.Event, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: event_ids must not be empty", flow_errors.ErrInvalidInput)
	}
	if len(ids) > maxBatchSize {
		return nil, fmt.Errorf("%w: at most %d event_ids per batch", flow_errors.ErrInvalidInput, maxBatchSize)
	}
	replayed, err := s.repo.ReplayBatch(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, e := range replayed {
		s.NotifyEvent(e.ID, e.State)
	}
	return replayed, nil
}

// RequeueStuck is the lease-recovery backstop. olderThanSeconds <= 0
// falls back to the deployment default.
func (s *EventService) RequeueStuck(ctx context.Context, olderThanSeconds int) ([]event.Event, error) {
	olderThan := s.stuckTimeout
	if olderThanSeconds > 0 {
		olderThan = time.Duration(olderThanSeconds) * time.Second
	}
	recovered, err := s.repo.RecoverStuck(ctx, olderThan)
	if err != nil {
		return nil, err
	}
	for _, e := range recovered {
		s.NotifyEvent(e.ID, e.State)
	}
	return recovered, nil
}

// NotifyEvent publishes a refresh hint. Implements engine.Notifier so
// the worker shares the same fanout path as the API.
func (s *EventService) NotifyEvent(eventID int64, state event.State) {
	if s.broker == nil {
		return
	}
	hint := events.Hint{EventID: eventID, State: string(state)}
	if err := s.broker.Publish(context.Background(), events.EventChannel, hint); err != nil {
		s.logger.Warnf("failed to publish event hint: %s", err)
	}
}

func isJSONObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var m map[string]interface{}
	return json.Unmarshal(raw, &m) == nil
}
