package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"eventflow/internal/domain/event"
	"eventflow/internal/services"
	"eventflow/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type EventHandler struct {
	service     *services.EventService
	environment string
}

func NewEventHandler(service *services.EventService, environment string) *EventHandler {
	return &EventHandler{service: service, environment: environment}
}

func (h *EventHandler) respondError(c *gin.Context, err error) {
	status, _ := httpdto.StatusAndKind(err)
	c.JSON(status, httpdto.NewErrorResponse(err, h.environment))
}

// Ingest handles POST /events. Duplicates return 201 with the existing
// row; the client infers duplication from received_count > 1.
func (h *EventHandler) Ingest(c *gin.Context) {
	var req httpdto.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: "invalid request body",
			Details: err.Error(),
		})
		return
	}

	e, err := h.service.Ingest(c.Request.Context(), req.ID, req.Type, req.Data)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *EventHandler) List(c *gin.Context) {
	filter, err := parseListFilter(c, true)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: err.Error(),
		})
		return
	}

	events, total, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if events == nil {
		events = []event.Event{}
	}
	c.JSON(http.StatusOK, httpdto.ListEventsResponse{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

func (h *EventHandler) Stats(c *gin.Context) {
	filter, err := parseListFilter(c, false)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: err.Error(),
		})
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *EventHandler) GetByID(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	e, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *EventHandler) GetAttempts(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	attempts, err := h.service.GetAttempts(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.AttemptsResponse{EventID: id, Attempts: attempts})
}

func (h *EventHandler) Replay(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	e, err := h.service.Replay(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.ReplayResponse{Event: e, Warning: services.ReplayWarning})
}

func (h *EventHandler) ReplayBatch(c *gin.Context) {
	var req httpdto.ReplayBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: "invalid request body",
			Details: err.Error(),
		})
		return
	}

	replayed, err := h.service.ReplayBatch(c.Request.Context(), req.EventIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.ReplayBatchResponse{
		Requested: len(req.EventIDs),
		Replayed:  len(replayed),
		Events:    replayed,
		Warning:   services.ReplayWarning,
	})
}

func (h *EventHandler) RequeueStuck(c *gin.Context) {
	var req httpdto.RequeueStuckRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
				Error:   httpdto.KindValidation,
				Message: "invalid request body",
				Details: err.Error(),
			})
			return
		}
	}

	recovered, err := h.service.RequeueStuck(c.Request.Context(), req.OlderThanSeconds)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.RequeueStuckResponse{Requeued: len(recovered), Events: recovered})
}

func (h *EventHandler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: "invalid event id",
		})
		return 0, false
	}
	return id, true
}

func parseListFilter(c *gin.Context, paged bool) (event.ListFilter, error) {
	var filter event.ListFilter
	filter.State = event.State(c.Query("state"))
	filter.Type = c.Query("type")

	if v := c.Query("start_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errBadDate("start_date")
		}
		filter.StartDate = &t
	}
	if v := c.Query("end_date"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errBadDate("end_date")
		}
		filter.EndDate = &t
	}

	if paged {
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, errBadInt("limit")
			}
			filter.Limit = n
		}
		if v := c.Query("offset"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, errBadInt("offset")
			}
			filter.Offset = n
		}
	}
	return filter, nil
}

func errBadDate(field string) error {
	return fmt.Errorf("%s must be an RFC 3339 timestamp", field)
}

func errBadInt(field string) error {
	return fmt.Errorf("%s must be a non-negative integer", field)
}
