package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"eventflow/internal/domain/event"
	"eventflow/internal/domain/rule"
	flow_errors "eventflow/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PostgresEventRepository struct {
	db TxStarter
}

func NewEventRepository(db TxStarter) EventRepository {
	return &PostgresEventRepository{db: db}
}

const eventColumns = `id, external_id, type, payload, state, received_count, created_at, processing_started_at, processed_at, replayed_at`

func scanEvent(row pgx.Row) (event.Event, error) {
	var e event.Event
	err := row.Scan(
		&e.ID,
		&e.ExternalID,
		&e.Type,
		&e.Payload,
		&e.State,
		&e.ReceivedCount,
		&e.CreatedAt,
		&e.ProcessingStartedAt,
		&e.ProcessedAt,
		&e.ReplayedAt,
	)
	return e, err
}

func collectEvents(rows pgx.Rows) ([]event.Event, error) {
	defer rows.Close()
	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *PostgresEventRepository) Ingest(ctx context.Context, externalID, eventType string, payload json.RawMessage) (event.Event, error) {
	// Duplicates keep their original payload, type and state; only the
	// counter moves.
	row := r.db.QueryRow(ctx, `
        INSERT INTO events (external_id, type, payload, state, received_count)
        VALUES ($1, $2, $3, 'pending', 1)
        ON CONFLICT (external_id)
        DO UPDATE SET received_count = events.received_count + 1
        RETURNING `+eventColumns,
		externalID, eventType, payload,
	)
	return scanEvent(row)
}

func (r *PostgresEventRepository) GetByID(ctx context.Context, id int64) (event.Event, error) {
	row := r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return event.Event{}, flow_errors.ErrNotFound
	}
	return e, err
}

func buildEventFilter(filter event.ListFilter) (string, []any) {
	var conds []string
	var args []any
	if filter.State != "" {
		args = append(args, filter.State)
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.StartDate != nil {
		args = append(args, *filter.StartDate)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.EndDate != nil {
		args = append(args, *filter.EndDate)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *PostgresEventRepository) List(ctx context.Context, filter event.ListFilter) ([]event.Event, int64, error) {
	where, args := buildEventFilter(filter)

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT `+eventColumns+` FROM events`+where+` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (r *PostgresEventRepository) Stats(ctx context.Context, filter event.ListFilter) (event.Stats, error) {
	where, args := buildEventFilter(filter)

	var s event.Stats
	err := r.db.QueryRow(ctx, `
        SELECT count(*),
               count(*) FILTER (WHERE state = 'pending'),
               count(*) FILTER (WHERE state = 'processing'),
               count(*) FILTER (WHERE state = 'processed'),
               count(*) FILTER (WHERE state = 'failed'),
               count(*) FILTER (WHERE state = 'failed'
                    AND COALESCE(processed_at, created_at) >= now() - interval '24 hours')
        FROM events`+where, args...,
	).Scan(&s.Total, &s.Pending, &s.Processing, &s.Processed, &s.Failed, &s.FailedLast24h)
	return s, err
}

func (r *PostgresEventRepository) GetAttempts(ctx context.Context, eventID int64) ([]AttemptDetail, error) {
	if _, err := r.GetByID(ctx, eventID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
        SELECT id, event_id, status, error, started_at, finished_at, duration_ms
        FROM event_attempts
        WHERE event_id = $1
        ORDER BY started_at DESC, id DESC
    `, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []AttemptDetail
	var attemptIDs []int64
	byID := map[int64]int{}
	for rows.Next() {
		var a AttemptDetail
		if err := rows.Scan(&a.ID, &a.EventID, &a.Status, &a.Error, &a.StartedAt, &a.FinishedAt, &a.DurationMs); err != nil {
			return nil, err
		}
		a.Executions = []rule.ExecutionDetail{}
		byID[a.ID] = len(attempts)
		attempts = append(attempts, a)
		attemptIDs = append(attemptIDs, a.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(attempts) == 0 {
		return []AttemptDetail{}, nil
	}

	execRows, err := r.db.Query(ctx, `
        SELECT re.id, re.attempt_id, re.rule_id, re.rule_version_id, re.result, re.error, re.executed_at,
               r.name, rv.version
        FROM rule_executions re
        JOIN rules r ON r.id = re.rule_id
        JOIN rule_versions rv ON rv.id = re.rule_version_id
        WHERE re.attempt_id = ANY($1)
        ORDER BY re.id ASC
    `, attemptIDs)
	if err != nil {
		return nil, err
	}
	defer execRows.Close()

	for execRows.Next() {
		var d rule.ExecutionDetail
		if err := execRows.Scan(&d.ID, &d.AttemptID, &d.RuleID, &d.RuleVersionID, &d.Result, &d.Error, &d.ExecutedAt, &d.RuleName, &d.RuleVersion); err != nil {
			return nil, err
		}
		if idx, ok := byID[d.AttemptID]; ok {
			attempts[idx].Executions = append(attempts[idx].Executions, d)
		}
	}
	return attempts, execRows.Err()
}

func (r *PostgresEventRepository) ClaimNext(ctx context.Context) (Claimed, error) {
	var claimed Claimed
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		// Row locks do the heavy lifting: workers never block on each
		// other's claims.
		row := tx.QueryRow(ctx, `
            SELECT `+eventColumns+`
            FROM events
            WHERE state = 'pending'
            ORDER BY created_at ASC, id ASC
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        `)
		e, err := scanEvent(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return flow_errors.ErrNoWork
		}
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
            UPDATE events
            SET state = 'processing', processing_started_at = $2
            WHERE id = $1
        `, e.ID, now); err != nil {
			return err
		}
		e.State = event.StateProcessing
		e.ProcessingStartedAt = &now

		if err := tx.QueryRow(ctx, `
            INSERT INTO event_attempts (event_id, status, started_at)
            VALUES ($1, NULL, $2)
            RETURNING id
        `, e.ID, now).Scan(&claimed.AttemptID); err != nil {
			return err
		}

		claimed.Event = e
		claimed.StartedAt = now
		return nil
	})
	if err != nil {
		return Claimed{}, err
	}
	return claimed, nil
}

func (r *PostgresEventRepository) FinalizeAttempt(ctx context.Context, attemptID, eventID int64, status event.AttemptStatus, errMsg *string) error {
	state := event.StateProcessed
	if status == event.AttemptFailed {
		state = event.StateFailed
	}
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := closeAttempt(ctx, tx, attemptID, status, errMsg); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
            UPDATE events
            SET state = $2, processed_at = now(), processing_started_at = NULL
            WHERE id = $1
        `, eventID, state)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return flow_errors.ErrNotFound
		}
		return nil
	})
}

func (r *PostgresEventRepository) ReturnToPending(ctx context.Context, attemptID, eventID int64, errMsg string) error {
	return WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if err := closeAttempt(ctx, tx, attemptID, event.AttemptFailed, &errMsg); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
            UPDATE events
            SET state = 'pending', processing_started_at = NULL
            WHERE id = $1
        `, eventID)
		return err
	})
}

func closeAttempt(ctx context.Context, tx pgx.Tx, attemptID int64, status event.AttemptStatus, errMsg *string) error {
	tag, err := tx.Exec(ctx, `
        UPDATE event_attempts
        SET status = $2,
            error = $3,
            finished_at = now(),
            duration_ms = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::BIGINT
        WHERE id = $1
    `, attemptID, status, errMsg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return flow_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresEventRepository) Replay(ctx context.Context, id int64) (event.Event, error) {
	row := r.db.QueryRow(ctx, `
        UPDATE events
        SET state = 'pending', replayed_at = now(), processing_started_at = NULL
        WHERE id = $1 AND state IN ('processed', 'failed')
        RETURNING `+eventColumns,
		id,
	)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// distinguish absence from a state conflict
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return event.Event{}, getErr
		}
		return event.Event{}, flow_errors.ErrConflict
	}
	return e, err
}

func (r *PostgresEventRepository) ReplayBatch(ctx context.Context, ids []int64) ([]event.Event, error) {
	rows, err := r.db.Query(ctx, `
        UPDATE events
        SET state = 'pending', replayed_at = now(), processing_started_at = NULL
        WHERE id = ANY($1) AND state IN ('processed', 'failed')
        RETURNING `+eventColumns,
		ids,
	)
	if err != nil {
		return nil, err
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []event.Event{}
	}
	return events, nil
}

func (r *PostgresEventRepository) RecoverStuck(ctx context.Context, olderThan time.Duration) ([]event.Event, error) {
	var recovered []event.Event
	err := WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
            UPDATE events
            SET state = 'pending', processing_started_at = NULL
            WHERE state = 'processing'
              AND processing_started_at < now() - ($1::bigint * interval '1 second')
            RETURNING `+eventColumns,
			int64(olderThan.Seconds()),
		)
		if err != nil {
			return err
		}
		recovered, err = collectEvents(rows)
		if err != nil {
			return err
		}
		if len(recovered) == 0 {
			return nil
		}

		ids := make([]int64, len(recovered))
		for i, e := range recovered {
			ids[i] = e.ID
		}
		_, err = tx.Exec(ctx, `
            UPDATE event_attempts
            SET status = 'failed',
                error = 'exceeded timeout',
                finished_at = now(),
                duration_ms = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::BIGINT
            WHERE event_id = ANY($1) AND status IS NULL
        `, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	if recovered == nil {
		recovered = []event.Event{}
	}
	return recovered, nil
}
