package httpdto

import (
	"encoding/json"

	"eventflow/internal/domain/rule"
)

type CreateRuleRequest struct {
	Name      string          `json:"name" binding:"required"`
	EventType string          `json:"event_type" binding:"required"`
	Active    *bool           `json:"active"`
	Condition json.RawMessage `json:"condition" binding:"required"`
	Action    rule.Action     `json:"action" binding:"required"`
}

// UpdateRuleRequest is a partial update; absent fields stay unchanged.
type UpdateRuleRequest struct {
	Name      *string         `json:"name"`
	EventType *string         `json:"event_type"`
	Active    *bool           `json:"active"`
	Condition json.RawMessage `json:"condition"`
	Action    *rule.Action    `json:"action"`
}

type RuleResponse struct {
	Rule           rule.Rule     `json:"rule"`
	CurrentVersion *rule.Version `json:"current_version,omitempty"`
}

type ListRulesResponse struct {
	Rules []rule.Rule `json:"rules"`
}

type RuleVersionsResponse struct {
	RuleID   int64          `json:"rule_id"`
	Versions []rule.Version `json:"versions"`
}
