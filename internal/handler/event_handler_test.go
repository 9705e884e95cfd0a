package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"eventflow/internal/domain/event"
	"eventflow/internal/repository"
	"eventflow/internal/services"
	flow_errors "eventflow/pkg/errors"
	"eventflow/pkg/events"
	"eventflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEventRepo struct {
	repository.EventRepository
	byExternalID map[string]*event.Event
	byID         map[int64]*event.Event
	nextID       int64
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{
		byExternalID: map[string]*event.Event{},
		byID:         map[int64]*event.Event{},
		nextID:       1,
	}
}

func (f *fakeEventRepo) Ingest(ctx context.Context, externalID, eventType string, payload json.RawMessage) (event.Event, error) {
	if existing, ok := f.byExternalID[externalID]; ok {
		existing.ReceivedCount++
		return *existing, nil
	}
	e := &event.Event{
		ID:            f.nextID,
		ExternalID:    externalID,
		Type:          eventType,
		Payload:       payload,
		State:         event.StatePending,
		ReceivedCount: 1,
		CreatedAt:     time.Now(),
	}
	f.nextID++
	f.byExternalID[externalID] = e
	f.byID[e.ID] = e
	return *e, nil
}

func (f *fakeEventRepo) GetByID(ctx context.Context, id int64) (event.Event, error) {
	e, ok := f.byID[id]
	if !ok {
		return event.Event{}, flow_errors.ErrNotFound
	}
	return *e, nil
}

func (f *fakeEventRepo) Replay(ctx context.Context, id int64) (event.Event, error) {
	e, ok := f.byID[id]
	if !ok {
		return event.Event{}, flow_errors.ErrNotFound
	}
	if !e.State.Terminal() {
		return event.Event{}, flow_errors.ErrConflict
	}
	e.State = event.StatePending
	return *e, nil
}

func (f *fakeEventRepo) RecoverStuck(ctx context.Context, olderThan time.Duration) ([]event.Event, error) {
	return []event.Event{}, nil
}

func testRouter(repo repository.EventRepository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	l := logger.New(logger.DevelopmentMode, "error")
	svc := services.NewEventService(repo, events.NewMemoryBroker(), l, 300*time.Second)
	h := NewEventHandler(svc, "test")

	r := gin.New()
	r.POST("/events", h.Ingest)
	r.GET("/events/:id", h.GetByID)
	r.POST("/events/:id/replay", h.Replay)
	r.POST("/events/replay-batch", h.ReplayBatch)
	r.POST("/events/requeue-stuck", h.RequeueStuck)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIngest_CreatesEvent(t *testing.T) {
	r := testRouter(newFakeEventRepo())

	w := doJSON(t, r, http.MethodPost, "/events", `{"id": "evt-1", "type": "order.created", "data": {"status": "paid"}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var e event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, "evt-1", e.ExternalID)
	assert.Equal(t, event.StatePending, e.State)
	assert.Equal(t, 1, e.ReceivedCount)
}

func TestIngest_DuplicateReturns201WithCount(t *testing.T) {
	r := testRouter(newFakeEventRepo())

	doJSON(t, r, http.MethodPost, "/events", `{"id": "dup-1", "type": "order.created", "data": {"foo": 1}}`)
	w := doJSON(t, r, http.MethodPost, "/events", `{"id": "dup-1", "type": "order.created", "data": {"foo": 999}}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var e event.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
	assert.Equal(t, 2, e.ReceivedCount)
	assert.JSONEq(t, `{"foo": 1}`, string(e.Payload))
}

func TestIngest_BadBodyIsValidationError(t *testing.T) {
	r := testRouter(newFakeEventRepo())

	w := doJSON(t, r, http.MethodPost, "/events", `{"type": "order.created"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp["error"])
}

func TestGetEvent_NotFoundEnvelope(t *testing.T) {
	r := testRouter(newFakeEventRepo())

	w := doJSON(t, r, http.MethodGet, "/events/99", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not-found", resp["error"])
}

func TestReplay_ConflictForNonTerminal(t *testing.T) {
	repo := newFakeEventRepo()
	r := testRouter(repo)

	doJSON(t, r, http.MethodPost, "/events", `{"id": "evt-1", "type": "order.created", "data": {}}`)

	// still pending, not replayable
	w := doJSON(t, r, http.MethodPost, "/events/1/replay", "")
	require.Equal(t, http.StatusConflict, w.Code)

	repo.byID[1].State = event.StateFailed
	w = doJSON(t, r, http.MethodPost, "/events/1/replay", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Event   event.Event `json:"event"`
		Warning string      `json:"warning"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, event.StatePending, resp.Event.State)
	assert.NotEmpty(t, resp.Warning)
}

func TestReplayBatch_SizeValidation(t *testing.T) {
	r := testRouter(newFakeEventRepo())

	w := doJSON(t, r, http.MethodPost, "/events/replay-batch", `{"event_ids": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequeueStuck_EmptyBodyAllowed(t *testing.T) {
	r := testRouter(newFakeEventRepo())

	w := doJSON(t, r, http.MethodPost, "/events/requeue-stuck", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Requeued int `json:"requeued"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.Requeued)
}
