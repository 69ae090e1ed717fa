/*
 * Sylph Verifier
 * Copyright (C) 2026  Sylph Verifier contributors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package pgstore implements storage.Store on PostgreSQL via pgx.
package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	sylph "github.com/efeban/sylph-verifier"
	"github.com/efeban/sylph-verifier/lib/storage"
	"github.com/efeban/sylph-verifier/lib/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenant_active_rules (
	tenant_id BIGINT NOT NULL,
	rule_name TEXT NOT NULL,
	group_id BIGINT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, rule_name)
);
CREATE TABLE IF NOT EXISTS tenant_custom_rules (
	tenant_id BIGINT NOT NULL,
	rule_name TEXT NOT NULL,
	condition TEXT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, rule_name)
);
CREATE TABLE IF NOT EXISTS roles_last_updated (
	tenant_id BIGINT NOT NULL,
	member_id BIGINT NOT NULL,
	trigger_kind TEXT NOT NULL,
	last_updated TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, member_id, trigger_kind)
);
`

// querier is satisfied by both the pool and a transaction, so the same
// statement helpers serve transactional and plain paths.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Config configures a postgres-backed store.
type Config struct {
	// ConnString is a pgx connection string or URL.
	ConnString string
	// Log is the logger. Defaults to the process logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("pgstore config missing connection string")
	}
	if c.Log == nil {
		c.Log = slog.With(sylph.ComponentKey, sylph.ComponentStorage)
	}
	return nil
}

// Store implements storage.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	q    querier
	log  *slog.Logger
}

// New connects to the database and bootstraps the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	pool, err := pgxpool.New(ctx, cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, trace.Wrap(err, "bootstrapping schema")
	}
	cfg.Log.InfoContext(ctx, "Connected to postgres store.")
	return &Store{pool: pool, q: pool, log: cfg.Log}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ActiveRules(ctx context.Context, tenant types.TenantID) ([]storage.ActiveRule, error) {
	rows, _ := s.q.Query(ctx,
		"SELECT rule_name, group_id, last_updated FROM tenant_active_rules WHERE tenant_id = $1",
		int64(tenant),
	)
	var out []storage.ActiveRule
	var name string
	var group int64
	var updated time.Time
	_, err := pgx.ForEachRow(rows, []any{&name, &group, &updated}, func() error {
		out = append(out, storage.ActiveRule{
			Tenant:      tenant,
			RuleName:    name,
			Group:       types.GroupID(group),
			LastUpdated: updated,
		})
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

func (s *Store) CustomRules(ctx context.Context, tenant types.TenantID) ([]storage.CustomRule, error) {
	rows, _ := s.q.Query(ctx,
		"SELECT rule_name, condition, last_updated FROM tenant_custom_rules WHERE tenant_id = $1",
		int64(tenant),
	)
	var out []storage.CustomRule
	var name, condition string
	var updated time.Time
	_, err := pgx.ForEachRow(rows, []any{&name, &condition, &updated}, func() error {
		out = append(out, storage.CustomRule{
			Tenant:      tenant,
			RuleName:    name,
			Condition:   condition,
			LastUpdated: updated,
		})
		return nil
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

func (s *Store) CountActiveRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM tenant_active_rules WHERE tenant_id = $1 AND rule_name != $2",
		int64(tenant), ruleName,
	).Scan(&n)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return n, nil
}

func (s *Store) CountCustomRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error) {
	var n int
	err := s.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM tenant_custom_rules WHERE tenant_id = $1 AND rule_name != $2",
		int64(tenant), ruleName,
	).Scan(&n)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return n, nil
}

func (s *Store) CustomRuleExists(ctx context.Context, tenant types.TenantID, ruleName string) (bool, error) {
	var n int
	err := s.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM tenant_custom_rules WHERE tenant_id = $1 AND rule_name = $2",
		int64(tenant), ruleName,
	).Scan(&n)
	if err != nil {
		return false, trace.Wrap(err)
	}
	return n != 0, nil
}

func (s *Store) UpsertActiveRule(ctx context.Context, rule storage.ActiveRule) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO tenant_active_rules (tenant_id, rule_name, group_id, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, rule_name)
		 DO UPDATE SET group_id = EXCLUDED.group_id, last_updated = EXCLUDED.last_updated`,
		int64(rule.Tenant), rule.RuleName, int64(rule.Group), rule.LastUpdated.UTC(),
	)
	return trace.Wrap(err)
}

func (s *Store) DeleteActiveRule(ctx context.Context, tenant types.TenantID, ruleName string) error {
	_, err := s.q.Exec(ctx,
		"DELETE FROM tenant_active_rules WHERE tenant_id = $1 AND rule_name = $2",
		int64(tenant), ruleName,
	)
	return trace.Wrap(err)
}

func (s *Store) UpsertCustomRule(ctx context.Context, rule storage.CustomRule) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO tenant_custom_rules (tenant_id, rule_name, condition, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, rule_name)
		 DO UPDATE SET condition = EXCLUDED.condition, last_updated = EXCLUDED.last_updated`,
		int64(rule.Tenant), rule.RuleName, rule.Condition, rule.LastUpdated.UTC(),
	)
	return trace.Wrap(err)
}

func (s *Store) DeleteCustomRule(ctx context.Context, tenant types.TenantID, ruleName string) error {
	_, err := s.q.Exec(ctx,
		"DELETE FROM tenant_custom_rules WHERE tenant_id = $1 AND rule_name = $2",
		int64(tenant), ruleName,
	)
	return trace.Wrap(err)
}

func (s *Store) LastUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind) (time.Time, bool, error) {
	var updated time.Time
	err := s.q.QueryRow(ctx,
		"SELECT last_updated FROM roles_last_updated WHERE tenant_id = $1 AND member_id = $2 AND trigger_kind = $3",
		int64(tenant), int64(member), string(kind),
	).Scan(&updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, trace.Wrap(err)
	}
	return updated, true, nil
}

func (s *Store) RecordUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind, at time.Time) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO roles_last_updated (tenant_id, member_id, trigger_kind, last_updated)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (tenant_id, member_id, trigger_kind)
		 DO UPDATE SET last_updated = EXCLUDED.last_updated`,
		int64(tenant), int64(member), string(kind), at.UTC(),
	)
	return trace.Wrap(err)
}

// WithTransaction runs fn in a serializable transaction. The closure gets a
// store bound to the transaction; nested transactions are not supported.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	if _, inTx := s.q.(pgx.Tx); inTx {
		return trace.BadParameter("transactions do not nest")
	}
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		return fn(&Store{pool: s.pool, q: tx, log: s.log})
	})
	return trace.Wrap(err)
}
