package handler

import (
	"net/http"
	"strconv"

	"eventflow/internal/domain/rule"
	"eventflow/internal/services"
	"eventflow/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
)

type RuleHandler struct {
	service     *services.RuleService
	environment string
}

func NewRuleHandler(service *services.RuleService, environment string) *RuleHandler {
	return &RuleHandler{service: service, environment: environment}
}

func (h *RuleHandler) respondError(c *gin.Context, err error) {
	status, _ := httpdto.StatusAndKind(err)
	c.JSON(status, httpdto.NewErrorResponse(err, h.environment))
}

func (h *RuleHandler) Create(c *gin.Context) {
	var req httpdto.CreateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: "invalid request body",
			Details: err.Error(),
		})
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	created, version, err := h.service.Create(c.Request.Context(), req.Name, req.EventType, active, req.Condition, req.Action)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.RuleResponse{Rule: created, CurrentVersion: &version})
}

func (h *RuleHandler) List(c *gin.Context) {
	var filter rule.ListFilter
	if v := c.Query("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
				Error:   httpdto.KindValidation,
				Message: "active must be a boolean",
			})
			return
		}
		filter.Active = &active
	}
	filter.EventType = c.Query("event_type")

	rules, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.ListRulesResponse{Rules: rules})
}

func (h *RuleHandler) GetByID(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	r, err := h.service.GetByID(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	version, err := h.service.GetCurrentVersion(c.Request.Context(), r)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.RuleResponse{Rule: r, CurrentVersion: &version})
}

func (h *RuleHandler) Update(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req httpdto.UpdateRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: "invalid request body",
			Details: err.Error(),
		})
		return
	}

	updated, version, err := h.service.Update(c.Request.Context(), id, services.RuleUpdate{
		Name:      req.Name,
		EventType: req.EventType,
		Active:    req.Active,
		Condition: req.Condition,
		Action:    req.Action,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.RuleResponse{Rule: updated, CurrentVersion: &version})
}

func (h *RuleHandler) Delete(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	deactivated, err := h.service.Deactivate(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.RuleResponse{Rule: deactivated})
}

func (h *RuleHandler) Versions(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}
	versions, err := h.service.ListVersions(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.RuleVersionsResponse{RuleID: id, Versions: versions})
}

func (h *RuleHandler) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.ErrorResponse{
			Error:   httpdto.KindValidation,
			Message: "invalid rule id",
		})
		return 0, false
	}
	return id, true
}
