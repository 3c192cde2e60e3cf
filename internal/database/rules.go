package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"logx-detector/internal/rules"
)

const ruleColumns = `id, tenant_id, system_id, name, kind, monitor_target, monitor_metric,
		condition_operator, condition_value, level, enabled, silence_seconds, silence_scope,
		created_at, updated_at`

func scanRule(s rowScanner) (rules.Rule, error) {
	var (
		r     rules.Rule
		kind  string
		scope string
	)
	err := s.Scan(
		&r.ID,
		&r.TenantID,
		&r.SystemID,
		&r.Name,
		&kind,
		&r.MonitorTarget,
		&r.MonitorMetric,
		&r.ConditionOperator,
		&r.ConditionValue,
		&r.Level,
		&r.Enabled,
		&r.SilenceSeconds,
		&scope,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return rules.Rule{}, err
	}
	r.Kind = rules.ParseKind(kind)
	r.SilenceScope = rules.ParseScope(scope)
	return r, nil
}

func (db *DB) queryRules(ctx context.Context, query string, args ...any) ([]rules.Rule, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return out, nil
}

// SelectAllEnabledRules returns every enabled rule.
func (db *DB) SelectAllEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM detection_rules
		WHERE enabled = TRUE
		ORDER BY tenant_id, system_id, id`
	return db.queryRules(ctx, query)
}

// SelectEnabledRulesBySystem returns the enabled rules of one tenant system.
func (db *DB) SelectEnabledRulesBySystem(ctx context.Context, tenantID, systemID string) ([]rules.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM detection_rules
		WHERE tenant_id = $1 AND system_id = $2 AND enabled = TRUE
		ORDER BY id`
	return db.queryRules(ctx, query, tenantID, systemID)
}

// SelectByID returns a rule regardless of its enabled flag.
func (db *DB) SelectByID(ctx context.Context, id int64) (rules.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM detection_rules
		WHERE id = $1`
	r, err := scanRule(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Rule{}, fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// Insert creates a rule and returns it with its generated id and timestamps.
func (db *DB) Insert(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	query := `
		INSERT INTO detection_rules (tenant_id, system_id, name, kind, monitor_target, monitor_metric,
			condition_operator, condition_value, level, enabled, silence_seconds, silence_scope,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		RETURNING ` + ruleColumns
	created, err := scanRule(db.conn.QueryRowContext(ctx, query,
		r.TenantID, r.SystemID, r.Name, r.Kind.String(), r.MonitorTarget, r.MonitorMetric,
		r.ConditionOperator, r.ConditionValue, rules.NormalizeLevel(r.Level), r.Enabled,
		r.SilenceSeconds, string(rules.ParseScope(string(r.SilenceScope))),
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return rules.Rule{}, fmt.Errorf("rule %q already exists for tenant %s system %s", r.Name, r.TenantID, r.SystemID)
		}
		return rules.Rule{}, fmt.Errorf("failed to create rule: %w", err)
	}
	return created, nil
}

// UpdateByID overwrites the rule with r.ID.
func (db *DB) UpdateByID(ctx context.Context, r rules.Rule) (rules.Rule, error) {
	query := `
		UPDATE detection_rules
		SET name = $2,
		    kind = $3,
		    monitor_target = $4,
		    monitor_metric = $5,
		    condition_operator = $6,
		    condition_value = $7,
		    level = $8,
		    enabled = $9,
		    silence_seconds = $10,
		    silence_scope = $11,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING ` + ruleColumns
	updated, err := scanRule(db.conn.QueryRowContext(ctx, query,
		r.ID, r.Name, r.Kind.String(), r.MonitorTarget, r.MonitorMetric,
		r.ConditionOperator, r.ConditionValue, rules.NormalizeLevel(r.Level), r.Enabled,
		r.SilenceSeconds, string(rules.ParseScope(string(r.SilenceScope))),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Rule{}, fmt.Errorf("rule %d: %w", r.ID, ErrNotFound)
	}
	if err != nil {
		return rules.Rule{}, fmt.Errorf("failed to update rule: %w", err)
	}
	return updated, nil
}

// DeleteByID removes a rule.
func (db *DB) DeleteByID(ctx context.Context, id int64) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM detection_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, ErrNotFound)
	}
	return nil
}
