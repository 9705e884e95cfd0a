package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"eventflow/internal/domain/event"
	flow_errors "eventflow/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		t.Skip("DB_URL not set (integration test)")
	}
	pool, err := pgxpool.New(context.Background(), dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func TestIngest_DuplicateKeepsPayload(t *testing.T) {
	pool := integrationPool(t)
	repo := NewEventRepository(pool)
	ctx := context.Background()

	id := uniqueID("evt_dup")
	first, err := repo.Ingest(ctx, id, "order.created", json.RawMessage(`{"foo": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, first.ReceivedCount)

	second, err := repo.Ingest(ctx, id, "order.created", json.RawMessage(`{"foo": 999}`))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.ReceivedCount)
	assert.JSONEq(t, `{"foo": 1}`, string(second.Payload))
}

func TestClaimNext_OnlyOneWorkerClaims(t *testing.T) {
	pool := integrationPool(t)
	repo := NewEventRepository(pool)
	ctx := context.Background()

	ingested, err := repo.Ingest(ctx, uniqueID("evt_claim"), "claim.test", json.RawMessage(`{}`))
	require.NoError(t, err)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var claims []Claimed

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			claimed, err := repo.ClaimNext(ctx)
			if errors.Is(err, flow_errors.ErrNoWork) {
				return
			}
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			claims = append(claims, claimed)
			mu.Unlock()
		}()
	}
	wg.Wait()

	// other pending events may exist in a shared database; our event
	// must have been claimed at most once
	count := 0
	for _, c := range claims {
		if c.Event.ID == ingested.ID {
			count++
		}
		// release whatever we claimed so the table stays drainable
		msg := "integration test cleanup"
		_ = repo.ReturnToPending(ctx, c.AttemptID, c.Event.ID, msg)
	}
	assert.LessOrEqual(t, count, 1)
}

func TestClaimAndFinalize_Lifecycle(t *testing.T) {
	pool := integrationPool(t)
	repo := NewEventRepository(pool)
	ctx := context.Background()

	ingested, err := repo.Ingest(ctx, uniqueID("evt_cycle"), "cycle.test", json.RawMessage(`{"n": 1}`))
	require.NoError(t, err)

	// drain until we claim our own event
	var claimed Claimed
	for {
		c, err := repo.ClaimNext(ctx)
		if errors.Is(err, flow_errors.ErrNoWork) {
			t.Fatalf("queue drained without claiming event %d", ingested.ID)
		}
		require.NoError(t, err)
		if c.Event.ID == ingested.ID {
			claimed = c
			break
		}
		_ = repo.ReturnToPending(ctx, c.AttemptID, c.Event.ID, "integration test cleanup")
	}

	assert.Equal(t, event.StateProcessing, claimed.Event.State)
	require.NotNil(t, claimed.Event.ProcessingStartedAt)

	require.NoError(t, repo.FinalizeAttempt(ctx, claimed.AttemptID, claimed.Event.ID, event.AttemptSuccess, nil))

	final, err := repo.GetByID(ctx, claimed.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StateProcessed, final.State)
	assert.Nil(t, final.ProcessingStartedAt)
	require.NotNil(t, final.ProcessedAt)

	attempts, err := repo.GetAttempts(ctx, claimed.Event.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	require.NotNil(t, attempts[0].Status)
	assert.Equal(t, event.AttemptSuccess, *attempts[0].Status)
	require.NotNil(t, attempts[0].DurationMs)
	assert.GreaterOrEqual(t, *attempts[0].DurationMs, int64(0))
}

func TestRecoverStuck_RequeuesExpiredLeases(t *testing.T) {
	pool := integrationPool(t)
	repo := NewEventRepository(pool)
	ctx := context.Background()

	ingested, err := repo.Ingest(ctx, uniqueID("evt_stuck"), "stuck.test", json.RawMessage(`{}`))
	require.NoError(t, err)

	// simulate a crashed worker holding a 10-minute-old lease
	_, err = pool.Exec(ctx, `
        UPDATE events
        SET state = 'processing', processing_started_at = now() - interval '600 seconds'
        WHERE id = $1
    `, ingested.ID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `
        INSERT INTO event_attempts (event_id, status, started_at)
        VALUES ($1, NULL, now() - interval '600 seconds')
    `, ingested.ID)
	require.NoError(t, err)

	recovered, err := repo.RecoverStuck(ctx, 300*time.Second)
	require.NoError(t, err)

	var found bool
	for _, e := range recovered {
		if e.ID == ingested.ID {
			found = true
			assert.Equal(t, event.StatePending, e.State)
			assert.Nil(t, e.ProcessingStartedAt)
		}
	}
	require.True(t, found, "expected event %d in recovered set", ingested.ID)

	attempts, err := repo.GetAttempts(ctx, ingested.ID)
	require.NoError(t, err)
	require.NotEmpty(t, attempts)
	require.NotNil(t, attempts[0].Status)
	assert.Equal(t, event.AttemptFailed, *attempts[0].Status)
	require.NotNil(t, attempts[0].Error)
	assert.Contains(t, *attempts[0].Error, "exceeded timeout")
}

func TestReplay_StateConflicts(t *testing.T) {
	pool := integrationPool(t)
	repo := NewEventRepository(pool)
	ctx := context.Background()

	ingested, err := repo.Ingest(ctx, uniqueID("evt_replay"), "replay.test", json.RawMessage(`{}`))
	require.NoError(t, err)

	// pending is not replayable
	_, err = repo.Replay(ctx, ingested.ID)
	assert.ErrorIs(t, err, flow_errors.ErrConflict)

	_, err = pool.Exec(ctx, `UPDATE events SET state = 'failed' WHERE id = $1`, ingested.ID)
	require.NoError(t, err)

	replayed, err := repo.Replay(ctx, ingested.ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatePending, replayed.State)
	require.NotNil(t, replayed.ReplayedAt)

	_, err = repo.Replay(ctx, int64(-1))
	assert.ErrorIs(t, err, flow_errors.ErrNotFound)

	// park it so other tests' drain loops don't pick it up
	_, err = pool.Exec(ctx, `UPDATE events SET state = 'processed' WHERE id = $1`, ingested.ID)
	require.NoError(t, err)
}
