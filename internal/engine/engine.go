package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventflow/internal/condition"
	"eventflow/internal/domain/event"
	"eventflow/internal/domain/rule"
	"eventflow/internal/repository"
	"eventflow/pkg/logger"

	"go.uber.org/zap"
)

// Dispatcher executes one action. Satisfied by action.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, a rule.Action) error
}

// Notifier receives a hint after every event state change.
type Notifier interface {
	NotifyEvent(eventID int64, state event.State)
}

// Engine evaluates the active rules for one claimed event, dispatches
// matched actions and finalizes the attempt.
type Engine struct {
	events     repository.EventRepository
	rules      repository.RuleRepository
	dispatcher Dispatcher
	notifier   Notifier
	logger     *logger.Logger
	timeout    time.Duration
}

func New(events repository.EventRepository, rules repository.RuleRepository, dispatcher Dispatcher, notifier Notifier, l *logger.Logger, timeout time.Duration) *Engine {
	return &Engine{
		events:     events,
		rules:      rules,
		dispatcher: dispatcher,
		notifier:   notifier,
		logger:     l,
		timeout:    timeout,
	}
}

// Process runs one attempt under the per-event wall-clock budget. On
// budget expiry the attempt is finalized as failed with an "exceeded
// timeout" marker and the event goes back to pending.
func (e *Engine) Process(ctx context.Context, claimed repository.Claimed) error {
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	errList, runErr := e.evaluateRules(runCtx, claimed)

	// finalization must outlive the per-event budget and shutdown
	finalizeCtx := ctx
	if ctx.Err() != nil || runCtx.Err() != nil {
		var finalizeCancel context.CancelFunc
		finalizeCtx, finalizeCancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer finalizeCancel()
	}

	if runErr != nil && (errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled)) {
		msg := fmt.Sprintf("processing exceeded timeout of %s", e.timeout)
		if errors.Is(runErr, context.Canceled) {
			msg = "worker shutdown before completion"
		}
		if err := e.events.ReturnToPending(finalizeCtx, claimed.AttemptID, claimed.Event.ID, msg); err != nil {
			return err
		}
		e.notify(claimed.Event.ID, event.StatePending)
		return nil
	}
	if runErr != nil {
		// engine-level fault: finalize failed so the event stays
		// visible instead of stuck in processing
		errList = append(errList, runErr.Error())
	}

	status := event.AttemptSuccess
	var errMsg *string
	state := event.StateProcessed
	if len(errList) > 0 {
		status = event.AttemptFailed
		state = event.StateFailed
		joined := strings.Join(errList, "\n")
		errMsg = &joined
	}

	if err := e.events.FinalizeAttempt(finalizeCtx, claimed.AttemptID, claimed.Event.ID, status, errMsg); err != nil {
		return err
	}
	e.notify(claimed.Event.ID, state)
	return nil
}

// evaluateRules walks the active rules in rule-id order. A failure in
// one rule never prevents the others from being evaluated; each
// outcome is independently recorded.
func (e *Engine) evaluateRules(ctx context.Context, claimed repository.Claimed) ([]string, error) {
	matched, err := e.rules.ActiveRulesForType(ctx, claimed.Event.Type)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	var errList []string
	for _, rw := range matched {
		if ctx.Err() != nil {
			return errList, ctx.Err()
		}

		result, ruleErr := e.evaluateRule(ctx, claimed.Event, rw)
		if ctx.Err() != nil && result == rule.ResultFailed {
			// the budget expired mid-rule; the timeout path owns the
			// attempt from here
			return errList, ctx.Err()
		}

		exec := &rule.Execution{
			AttemptID:     claimed.AttemptID,
			RuleID:        rw.Rule.ID,
			RuleVersionID: rw.Version.ID,
			Result:        result,
		}
		if ruleErr != nil {
			rendered := ruleErr.Error()
			exec.Error = &rendered
			errList = append(errList, fmt.Sprintf("rule %q: %s", rw.Rule.Name, rendered))
		}
		if err := e.rules.InsertExecution(ctx, exec); err != nil {
			return errList, fmt.Errorf("recording execution for rule %d: %w", rw.Rule.ID, err)
		}

		e.logger.WithContext(ctx).Debug("rule evaluated",
			zap.Int64("event_id", claimed.Event.ID),
			zap.Int64("rule_id", rw.Rule.ID),
			zap.String("result", string(result)))
	}
	return errList, nil
}

func (e *Engine) evaluateRule(ctx context.Context, ev event.Event, rw repository.RuleWithVersion) (rule.ExecutionResult, error) {
	matched, err := condition.Evaluate(rw.Version.Condition, ev.Payload)
	if err != nil {
		return rule.ResultFailed, err
	}
	if !matched {
		return rule.ResultSkipped, nil
	}

	// Idempotent actions always run so the audit log reflects every
	// pass; non-idempotent ones are at-most-once per rule version.
	if !rw.Version.Action.Type.Idempotent() {
		deduped, err := e.rules.HasCompletedExecution(ctx, ev.ID, rw.Version.ID)
		if err != nil {
			return rule.ResultFailed, fmt.Errorf("dedup check: %w", err)
		}
		if deduped {
			return rule.ResultDeduped, nil
		}
	}

	if err := e.dispatcher.Dispatch(ctx, rw.Version.Action); err != nil {
		return rule.ResultFailed, err
	}
	return rule.ResultApplied, nil
}

func (e *Engine) notify(eventID int64, state event.State) {
	if e.notifier != nil {
		e.notifier.NotifyEvent(eventID, state)
	}
}
