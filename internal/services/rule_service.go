package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"eventflow/internal/action"
	"eventflow/internal/condition"
	"eventflow/internal/domain/rule"
	"eventflow/internal/repository"
	flow_errors "eventflow/pkg/errors"
	"eventflow/pkg/logger"
)

// RuleService owns rule CRUD with version-on-change semantics.
type RuleService struct {
	repo   repository.RuleRepository
	logger *logger.Logger
}

func NewRuleService(repo repository.RuleRepository, l *logger.Logger) *RuleService {
	return &RuleService{repo: repo, logger: l}
}

// RuleUpdate carries a partial update. Nil fields are left unchanged.
type RuleUpdate struct {
	Name      *string
	EventType *string
	Active    *bool
	Condition json.RawMessage
	Action    *rule.Action
}

func (s *RuleService) Create(ctx context.Context, name, eventType string, active bool, cond json.RawMessage, act rule.Action) (rule.Rule, rule.Version, error) {
	if name == "" {
		return rule.Rule{}, rule.Version{}, fmt.Errorf("%w: name is required", flow_errors.ErrInvalidInput)
	}
	if eventType == "" {
		return rule.Rule{}, rule.Version{}, fmt.Errorf("%w: event_type is required", flow_errors.ErrInvalidInput)
	}
	if err := condition.Validate(cond); err != nil {
		return rule.Rule{}, rule.Version{}, err
	}
	if err := action.ValidateAction(act); err != nil {
		return rule.Rule{}, rule.Version{}, err
	}
	return s.repo.Create(ctx, name, eventType, active, cond, act)
}

func (s *RuleService) GetByID(ctx context.Context, id int64) (rule.Rule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *RuleService) GetCurrentVersion(ctx context.Context, r rule.Rule) (rule.Version, error) {
	if r.CurrentVersionID == nil {
		return rule.Version{}, flow_errors.ErrNotFound
	}
	return s.repo.GetVersion(ctx, *r.CurrentVersionID)
}

func (s *RuleService) List(ctx context.Context, filter rule.ListFilter) ([]rule.Rule, error) {
	return s.repo.List(ctx, filter)
}

func (s *RuleService) ListVersions(ctx context.Context, ruleID int64) ([]rule.Version, error) {
	return s.repo.ListVersions(ctx, ruleID)
}

// Update edits header fields in place; a changed condition or action
// creates version current+1 and retargets the pointer. Metadata-only
// edits bump updated_at without a new version.
func (s *RuleService) Update(ctx context.Context, id int64, upd RuleUpdate) (rule.Rule, rule.Version, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return rule.Rule{}, rule.Version{}, err
	}
	current, err := s.GetCurrentVersion(ctx, existing)
	if err != nil {
		return rule.Rule{}, rule.Version{}, err
	}

	newCond := current.Condition
	if upd.Condition != nil {
		if err := condition.Validate(upd.Condition); err != nil {
			return rule.Rule{}, rule.Version{}, err
		}
		newCond = upd.Condition
	}
	newAct := current.Action
	if upd.Action != nil {
		if err := action.ValidateAction(*upd.Action); err != nil {
			return rule.Rule{}, rule.Version{}, err
		}
		newAct = *upd.Action
	}

	if upd.Name != nil {
		if *upd.Name == "" {
			return rule.Rule{}, rule.Version{}, fmt.Errorf("%w: name must not be empty", flow_errors.ErrInvalidInput)
		}
		existing.Name = *upd.Name
	}
	if upd.EventType != nil {
		if *upd.EventType == "" {
			return rule.Rule{}, rule.Version{}, fmt.Errorf("%w: event_type must not be empty", flow_errors.ErrInvalidInput)
		}
		existing.EventType = *upd.EventType
	}
	if upd.Active != nil {
		existing.Active = *upd.Active
	}

	updated, err := s.repo.UpdateHeader(ctx, existing)
	if err != nil {
		return rule.Rule{}, rule.Version{}, err
	}

	if !jsonEqual(newCond, current.Condition) || !actionEqual(newAct, current.Action) {
		version, err := s.repo.InsertVersion(ctx, id, newCond, newAct)
		if err != nil {
			return rule.Rule{}, rule.Version{}, err
		}
		updated.CurrentVersionID = &version.ID
		return updated, version, nil
	}
	return updated, current, nil
}

// Deactivate is the soft delete: the rule drops out of evaluation but
// its execution history stays intact.
func (s *RuleService) Deactivate(ctx context.Context, id int64) (rule.Rule, error) {
	return s.repo.Deactivate(ctx, id)
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func actionEqual(a, b rule.Action) bool {
	if a.Type != b.Type {
		return false
	}
	return jsonEqual(paramsOrEmpty(a.Params), paramsOrEmpty(b.Params))
}

func paramsOrEmpty(p json.RawMessage) json.RawMessage {
	if len(p) == 0 {
		return json.RawMessage(`{}`)
	}
	return p
}
