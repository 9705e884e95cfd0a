package handler

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"eventflow/internal/domain/rule"
	"eventflow/internal/repository"
	flow_errors "eventflow/pkg/errors"
)

// memRuleRepo backs the rule handler tests with an in-memory store.
type memRuleRepo struct {
	repository.RuleRepository
	rules    map[int64]rule.Rule
	versions map[int64]rule.Version
	nextRule int64
	nextVer  int64
}

func newMemRuleRepo() *memRuleRepo {
	return &memRuleRepo{
		rules:    map[int64]rule.Rule{},
		versions: map[int64]rule.Version{},
		nextRule: 1,
		nextVer:  1,
	}
}

func (m *memRuleRepo) Create(ctx context.Context, name, eventType string, active bool, cond json.RawMessage, act rule.Action) (rule.Rule, rule.Version, error) {
	r := rule.Rule{
		ID:        m.nextRule,
		Name:      name,
		EventType: eventType,
		Active:    active,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	m.nextRule++
	v := rule.Version{ID: m.nextVer, RuleID: r.ID, Condition: cond, Action: act, Version: 1, CreatedAt: time.Now()}
	m.nextVer++
	r.CurrentVersionID = &v.ID
	m.rules[r.ID] = r
	m.versions[v.ID] = v
	return r, v, nil
}

func (m *memRuleRepo) GetByID(ctx context.Context, id int64) (rule.Rule, error) {
	r, ok := m.rules[id]
	if !ok {
		return rule.Rule{}, flow_errors.ErrNotFound
	}
	return r, nil
}

func (m *memRuleRepo) GetVersion(ctx context.Context, versionID int64) (rule.Version, error) {
	v, ok := m.versions[versionID]
	if !ok {
		return rule.Version{}, flow_errors.ErrNotFound
	}
	return v, nil
}

func (m *memRuleRepo) UpdateHeader(ctx context.Context, r rule.Rule) (rule.Rule, error) {
	existing, ok := m.rules[r.ID]
	if !ok {
		return rule.Rule{}, flow_errors.ErrNotFound
	}
	r.CurrentVersionID = existing.CurrentVersionID
	r.UpdatedAt = time.Now()
	m.rules[r.ID] = r
	return r, nil
}

func (m *memRuleRepo) InsertVersion(ctx context.Context, ruleID int64, cond json.RawMessage, act rule.Action) (rule.Version, error) {
	r, ok := m.rules[ruleID]
	if !ok {
		return rule.Version{}, flow_errors.ErrNotFound
	}
	maxVersion := 0
	for _, v := range m.versions {
		if v.RuleID == ruleID && v.Version > maxVersion {
			maxVersion = v.Version
		}
	}
	v := rule.Version{ID: m.nextVer, RuleID: ruleID, Condition: cond, Action: act, Version: maxVersion + 1, CreatedAt: time.Now()}
	m.nextVer++
	m.versions[v.ID] = v
	r.CurrentVersionID = &v.ID
	m.rules[ruleID] = r
	return v, nil
}

func (m *memRuleRepo) Deactivate(ctx context.Context, id int64) (rule.Rule, error) {
	r, ok := m.rules[id]
	if !ok {
		return rule.Rule{}, flow_errors.ErrNotFound
	}
	r.Active = false
	r.UpdatedAt = time.Now()
	m.rules[id] = r
	return r, nil
}

func (m *memRuleRepo) ListVersions(ctx context.Context, ruleID int64) ([]rule.Version, error) {
	if _, ok := m.rules[ruleID]; !ok {
		return nil, flow_errors.ErrNotFound
	}
	out := []rule.Version{}
	for _, v := range m.versions {
		if v.RuleID == ruleID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}
