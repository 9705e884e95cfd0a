package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"eventflow/internal/engine"
	"eventflow/internal/repository"
	flow_errors "eventflow/pkg/errors"
	"eventflow/pkg/logger"

	"go.uber.org/zap"
)

// Worker drains pending events through the engine. Each loop is
// sequential within itself; multiple loops share the store and stay
// correct through the skip-locked claim alone.
type Worker struct {
	events       repository.EventRepository
	engine       *engine.Engine
	logger       *logger.Logger
	pollInterval time.Duration
	count        int
	wg           sync.WaitGroup
}

func New(events repository.EventRepository, eng *engine.Engine, l *logger.Logger, pollInterval time.Duration, count int) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if count <= 0 {
		count = 1
	}
	return &Worker{
		events:       events,
		engine:       eng,
		logger:       l,
		pollInterval: pollInterval,
		count:        count,
	}
}

// Start launches the loops. They exit when ctx is cancelled, after the
// in-flight event's finalization completes.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.count; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.run(ctx, id)
		}(i)
	}
}

// Wait blocks until every loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, id int) {
	log := w.logger.Logger.With(zap.Int("worker", id))
	log.Info("worker started", zap.Duration("poll_interval", w.pollInterval))

	for {
		if ctx.Err() != nil {
			log.Info("worker stopping")
			return
		}

		worked, err := w.tick(ctx)
		if err != nil && ctx.Err() == nil {
			// log and continue; liveness over any single fault
			log.Error("worker tick failed", zap.Error(err))
		}

		if worked {
			continue
		}
		select {
		case <-ctx.Done():
			log.Info("worker stopping")
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// tick claims and processes at most one event. Returns true when work
// was found.
func (w *Worker) tick(ctx context.Context) (bool, error) {
	claimed, err := w.events.ClaimNext(ctx)
	if errors.Is(err, flow_errors.ErrNoWork) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, w.engine.Process(ctx, claimed)
}
