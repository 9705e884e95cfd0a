package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"eventflow/internal/services"
	"eventflow/internal/transport/httpdto"
	"eventflow/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	l := logger.New(logger.DevelopmentMode, "error")
	svc := services.NewRuleService(newMemRuleRepo(), l)
	h := NewRuleHandler(svc, "test")

	r := gin.New()
	r.POST("/rules", h.Create)
	r.GET("/rules/:id", h.GetByID)
	r.PUT("/rules/:id", h.Update)
	r.DELETE("/rules/:id", h.Delete)
	r.GET("/rules/:id/versions", h.Versions)
	return r
}

func TestCreateRule_ReturnsRuleAndVersion(t *testing.T) {
	r := ruleRouter(t)

	body := `{
        "name": "paid-logger",
        "event_type": "order.created",
        "condition": {"==": [{"var": "status"}, "paid"]},
        "action": {"type": "log", "params": {"level": "info", "message": "ok"}}
    }`
	w := doJSON(t, r, http.MethodPost, "/rules", body)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp httpdto.RuleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "paid-logger", resp.Rule.Name)
	assert.True(t, resp.Rule.Active)
	require.NotNil(t, resp.CurrentVersion)
	assert.Equal(t, 1, resp.CurrentVersion.Version)
}

func TestCreateRule_RejectsScalarConditionRoot(t *testing.T) {
	r := ruleRouter(t)

	body := `{
        "name": "bad",
        "event_type": "order.created",
        "condition": "paid",
        "action": {"type": "noop"}
    }`
	w := doJSON(t, r, http.MethodPost, "/rules", body)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation", resp["error"])
}

func TestCreateRule_RejectsUnknownOperator(t *testing.T) {
	r := ruleRouter(t)

	body := `{
        "name": "bad",
        "event_type": "order.created",
        "condition": {"eval": ["boom"]},
        "action": {"type": "noop"}
    }`
	w := doJSON(t, r, http.MethodPost, "/rules", body)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Operator not allowed: eval")
}

func TestUpdateRule_ConditionChangeBumpsVersion(t *testing.T) {
	r := ruleRouter(t)

	create := `{
        "name": "paid-logger",
        "event_type": "order.created",
        "condition": {"==": [{"var": "status"}, "paid"]},
        "action": {"type": "noop"}
    }`
	w := doJSON(t, r, http.MethodPost, "/rules", create)
	require.Equal(t, http.StatusCreated, w.Code)

	update := `{"condition": {"==": [{"var": "status"}, "refunded"]}}`
	w = doJSON(t, r, http.MethodPut, "/rules/1", update)
	require.Equal(t, http.StatusOK, w.Code)

	var resp httpdto.RuleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.CurrentVersion)
	assert.Equal(t, 2, resp.CurrentVersion.Version)

	w = doJSON(t, r, http.MethodGet, "/rules/1/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var versions httpdto.RuleVersionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &versions))
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[0].Version, "versions must be ordered descending")
}

func TestDeleteRule_SoftDeactivates(t *testing.T) {
	r := ruleRouter(t)

	create := `{
        "name": "paid-logger",
        "event_type": "order.created",
        "condition": {"==": [{"var": "status"}, "paid"]},
        "action": {"type": "noop"}
    }`
	doJSON(t, r, http.MethodPost, "/rules", create)

	w := doJSON(t, r, http.MethodDelete, "/rules/1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp httpdto.RuleResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Rule.Active)

	w = doJSON(t, r, http.MethodGet, "/rules/1", "")
	assert.Equal(t, http.StatusOK, w.Code, "deactivated rules are still readable")
}

func TestGetRule_NotFound(t *testing.T) {
	r := ruleRouter(t)

	w := doJSON(t, r, http.MethodGet, "/rules/42", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "not-found", resp["error"])
}
