package repository

import (
	"context"
	"encoding/json"
	"time"

	"eventflow/internal/domain/event"
	"eventflow/internal/domain/rule"
)

// Claimed is the unit of work handed from the coordinator to the engine.
type Claimed struct {
	Event     event.Event
	AttemptID int64
	StartedAt time.Time
}

// AttemptDetail joins an attempt with its rule executions for the
// audit read.
type AttemptDetail struct {
	event.Attempt
	Executions []rule.ExecutionDetail `json:"executions"`
}

// RuleWithVersion joins an active rule header with its current
// version's condition and action.
type RuleWithVersion struct {
	Rule    rule.Rule
	Version rule.Version
}

type EventRepository interface {
	// Ingest upserts on external_id: new rows start pending with
	// received_count 1, duplicates only bump received_count.
	Ingest(ctx context.Context, externalID, eventType string, payload json.RawMessage) (event.Event, error)
	GetByID(ctx context.Context, id int64) (event.Event, error)
	List(ctx context.Context, filter event.ListFilter) ([]event.Event, int64, error)
	Stats(ctx context.Context, filter event.ListFilter) (event.Stats, error)
	GetAttempts(ctx context.Context, eventID int64) ([]AttemptDetail, error)

	// ClaimNext atomically locks the oldest pending event (skipping rows
	// locked by other sessions), marks it processing and opens an
	// attempt. Returns ErrNoWork when the queue is empty.
	ClaimNext(ctx context.Context) (Claimed, error)
	// FinalizeAttempt closes the attempt and advances the event to
	// processed or failed in one transaction.
	FinalizeAttempt(ctx context.Context, attemptID, eventID int64, status event.AttemptStatus, errMsg *string) error
	// ReturnToPending finalizes the attempt as failed and puts the event
	// back in the queue. Used when the per-event budget expires.
	ReturnToPending(ctx context.Context, attemptID, eventID int64, errMsg string) error

	Replay(ctx context.Context, id int64) (event.Event, error)
	ReplayBatch(ctx context.Context, ids []int64) ([]event.Event, error)
	// RecoverStuck returns processing rows whose lease expired to
	// pending and finalizes their orphan attempts as failed.
	RecoverStuck(ctx context.Context, olderThan time.Duration) ([]event.Event, error)
}

type RuleRepository interface {
	// Create inserts the rule header, version 1 and the
	// current_version_id pointer in one transaction.
	Create(ctx context.Context, name, eventType string, active bool, cond json.RawMessage, act rule.Action) (rule.Rule, rule.Version, error)
	GetByID(ctx context.Context, id int64) (rule.Rule, error)
	GetVersion(ctx context.Context, versionID int64) (rule.Version, error)
	List(ctx context.Context, filter rule.ListFilter) ([]rule.Rule, error)
	ListVersions(ctx context.Context, ruleID int64) ([]rule.Version, error)
	UpdateHeader(ctx context.Context, r rule.Rule) (rule.Rule, error)
	// InsertVersion creates version current+1 and retargets
	// current_version_id in one transaction.
	InsertVersion(ctx context.Context, ruleID int64, cond json.RawMessage, act rule.Action) (rule.Version, error)
	Deactivate(ctx context.Context, id int64) (rule.Rule, error)

	// ActiveRulesForType returns active rules for the event type joined
	// with their current versions, ordered by rule id ascending.
	ActiveRulesForType(ctx context.Context, eventType string) ([]RuleWithVersion, error)
	// HasCompletedExecution is the replay dedup predicate: any prior
	// execution of the same rule version against the same event with
	// result applied or deduped.
	HasCompletedExecution(ctx context.Context, eventID, ruleVersionID int64) (bool, error)
	InsertExecution(ctx context.Context, exec *rule.Execution) error
}
