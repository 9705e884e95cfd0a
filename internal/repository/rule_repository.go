package repository

import (
	"context"
	"encoding/json"
	"errors"

	"eventflow/internal/domain/rule"
	flow_errors "eventflow/pkg/errors"

	"github.com/jackc/pgx/v5"
)

type PostgresRuleRepository struct {
	db TxStarter
}

func NewRuleRepository(db TxStarter) RuleRepository {
	return &PostgresRuleRepository{db: db}
}

const ruleColumns = `id, name, event_type, active, current_version_id, created_at, updated_at`
const versionColumns = `id, rule_id, condition, action, version, created_at`

func scanRule(row pgx.Row) (rule.Rule, error) {
	var r rule.Rule
	err := row.Scan(&r.ID, &r.Name, &r.EventType, &r.Active, &r.CurrentVersionID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func scanVersion(row pgx.Row) (rule.Version, error) {
	var v rule.Version
	var action json.RawMessage
	err := row.Scan(&v.ID, &v.RuleID, &v.Condition, &action, &v.Version, &v.CreatedAt)
	if err != nil {
		return rule.Version{}, err
	}
	if err := json.Unmarshal(action, &v.Action); err != nil {
		return rule.Version{}, err
	}
	return v, nil
}

func (r *PostgresRuleRepository) Create(ctx context.Context, name, eventType string, active bool, cond json.RawMessage, act rule.Action) (rule.Rule, rule.Version, error) {
	var created rule.Rule
	var version rule.Version
	actJSON, err := json.Marshal(act)
	if err != nil {
		return rule.Rule{}, rule.Version{}, err
	}

	err = WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            INSERT INTO rules (name, event_type, active)
            VALUES ($1, $2, $3)
            RETURNING `+ruleColumns,
			name, eventType, active,
		)
		var err error
		created, err = scanRule(row)
		if err != nil {
			return err
		}

		row = tx.QueryRow(ctx, `
            INSERT INTO rule_versions (rule_id, condition, action, version)
            VALUES ($1, $2, $3, 1)
            RETURNING `+versionColumns,
			created.ID, cond, actJSON,
		)
		version, err = scanVersion(row)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
            UPDATE rules SET current_version_id = $2 WHERE id = $1
        `, created.ID, version.ID)
		created.CurrentVersionID = &version.ID
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return rule.Rule{}, rule.Version{}, flow_errors.ErrAlreadyExists
		}
		return rule.Rule{}, rule.Version{}, err
	}
	return created, version, nil
}

func (r *PostgresRuleRepository) GetByID(ctx context.Context, id int64) (rule.Rule, error) {
	row := r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM rules WHERE id = $1`, id)
	rl, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rule.Rule{}, flow_errors.ErrNotFound
	}
	return rl, err
}

func (r *PostgresRuleRepository) GetVersion(ctx context.Context, versionID int64) (rule.Version, error) {
	row := r.db.QueryRow(ctx, `SELECT `+versionColumns+` FROM rule_versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rule.Version{}, flow_errors.ErrNotFound
	}
	return v, err
}

func (r *PostgresRuleRepository) List(ctx context.Context, filter rule.ListFilter) ([]rule.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules`
	var conds []string
	var args []any
	if filter.Active != nil {
		args = append(args, *filter.Active)
		conds = append(conds, `active = $1`)
	}
	if filter.EventType != "" {
		args = append(args, filter.EventType)
		if len(args) == 1 {
			conds = append(conds, `event_type = $1`)
		} else {
			conds = append(conds, `event_type = $2`)
		}
	}
	if len(conds) > 0 {
		query += ` WHERE ` + conds[0]
		for _, c := range conds[1:] {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY id ASC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []rule.Rule{}
	for rows.Next() {
		rl, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rl)
	}
	return rules, rows.Err()
}

func (r *PostgresRuleRepository) ListVersions(ctx context.Context, ruleID int64) ([]rule.Version, error) {
	if _, err := r.GetByID(ctx, ruleID); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
        SELECT `+versionColumns+`
        FROM rule_versions
        WHERE rule_id = $1
        ORDER BY version DESC
    `, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	versions := []rule.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (r *PostgresRuleRepository) UpdateHeader(ctx context.Context, rl rule.Rule) (rule.Rule, error) {
	row := r.db.QueryRow(ctx, `
        UPDATE rules
        SET name = $2, event_type = $3, active = $4, updated_at = now()
        WHERE id = $1
        RETURNING `+ruleColumns,
		rl.ID, rl.Name, rl.EventType, rl.Active,
	)
	updated, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rule.Rule{}, flow_errors.ErrNotFound
	}
	return updated, err
}

func (r *PostgresRuleRepository) InsertVersion(ctx context.Context, ruleID int64, cond json.RawMessage, act rule.Action) (rule.Version, error) {
	var version rule.Version
	actJSON, err := json.Marshal(act)
	if err != nil {
		return rule.Version{}, err
	}

	err = WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
            INSERT INTO rule_versions (rule_id, condition, action, version)
            SELECT $1::bigint, $2::jsonb, $3::jsonb, COALESCE(MAX(version), 0) + 1
            FROM rule_versions
            WHERE rule_id = $1
            RETURNING `+versionColumns,
			ruleID, cond, actJSON,
		)
		var err error
		version, err = scanVersion(row)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
            UPDATE rules SET current_version_id = $2, updated_at = now() WHERE id = $1
        `, ruleID, version.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return flow_errors.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return rule.Version{}, err
	}
	return version, nil
}

func (r *PostgresRuleRepository) Deactivate(ctx context.Context, id int64) (rule.Rule, error) {
	row := r.db.QueryRow(ctx, `
        UPDATE rules
        SET active = false, updated_at = now()
        WHERE id = $1
        RETURNING `+ruleColumns,
		id,
	)
	rl, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return rule.Rule{}, flow_errors.ErrNotFound
	}
	return rl, err
}

func (r *PostgresRuleRepository) ActiveRulesForType(ctx context.Context, eventType string) ([]RuleWithVersion, error) {
	rows, err := r.db.Query(ctx, `
        SELECT r.id, r.name, r.event_type, r.active, r.current_version_id, r.created_at, r.updated_at,
               rv.id, rv.rule_id, rv.condition, rv.action, rv.version, rv.created_at
        FROM rules r
        JOIN rule_versions rv ON rv.id = r.current_version_id
        WHERE r.active = true AND r.event_type = $1
        ORDER BY r.id ASC
    `, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RuleWithVersion
	for rows.Next() {
		var rw RuleWithVersion
		var action json.RawMessage
		if err := rows.Scan(
			&rw.Rule.ID, &rw.Rule.Name, &rw.Rule.EventType, &rw.Rule.Active, &rw.Rule.CurrentVersionID, &rw.Rule.CreatedAt, &rw.Rule.UpdatedAt,
			&rw.Version.ID, &rw.Version.RuleID, &rw.Version.Condition, &action, &rw.Version.Version, &rw.Version.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(action, &rw.Version.Action); err != nil {
			return nil, err
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

func (r *PostgresRuleRepository) HasCompletedExecution(ctx context.Context, eventID, ruleVersionID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
        SELECT EXISTS (
            SELECT 1
            FROM rule_executions re
            JOIN event_attempts ea ON ea.id = re.attempt_id
            WHERE ea.event_id = $1
              AND re.rule_version_id = $2
              AND re.result IN ('applied', 'deduped')
        )
    `, eventID, ruleVersionID).Scan(&exists)
	return exists, err
}

func (r *PostgresRuleRepository) InsertExecution(ctx context.Context, exec *rule.Execution) error {
	return r.db.QueryRow(ctx, `
        INSERT INTO rule_executions (attempt_id, rule_id, rule_version_id, result, error)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, executed_at
    `, exec.AttemptID, exec.RuleID, exec.RuleVersionID, exec.Result, exec.Error).Scan(&exec.ID, &exec.ExecutedAt)
}
