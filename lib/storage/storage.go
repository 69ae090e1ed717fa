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

// Package storage defines the narrow persistent-store interface the role
// manager depends on: three tenant-scoped relations plus an exclusive
// transaction wrapper. Production deployments use the pgstore
// implementation; tests use memstore.
package storage

import (
	"context"
	"time"

	"github.com/efeban/sylph-verifier/lib/types"
)

// ActiveRule is one row of the active-role-assignments relation, unique per
// (tenant, rule name).
type ActiveRule struct {
	Tenant      types.TenantID
	RuleName    string
	Group       types.GroupID
	LastUpdated time.Time
}

// CustomRule is one row of the custom-rule-definitions relation, unique per
// (tenant, rule name).
type CustomRule struct {
	Tenant      types.TenantID
	RuleName    string
	Condition   string
	LastUpdated time.Time
}

// Store is the persistence surface the role manager requires. Plain reads
// and single-row upserts run outside transactions; check-then-write
// sequences run inside WithTransaction.
type Store interface {
	// ActiveRules returns every active-role assignment of a tenant.
	ActiveRules(ctx context.Context, tenant types.TenantID) ([]ActiveRule, error)
	// CustomRules returns every custom-rule definition of a tenant.
	CustomRules(ctx context.Context, tenant types.TenantID) ([]CustomRule, error)

	// CountActiveRulesExcept counts a tenant's active assignments, not
	// counting the named rule. Used for prospective limit checks.
	CountActiveRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error)
	// CountCustomRulesExcept counts a tenant's custom-rule definitions, not
	// counting the named rule.
	CountCustomRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error)
	// CustomRuleExists reports whether a tenant defines the named custom rule.
	CustomRuleExists(ctx context.Context, tenant types.TenantID, ruleName string) (bool, error)

	// UpsertActiveRule inserts or replaces an active-role assignment.
	UpsertActiveRule(ctx context.Context, rule ActiveRule) error
	// DeleteActiveRule removes an active-role assignment if present.
	DeleteActiveRule(ctx context.Context, tenant types.TenantID, ruleName string) error
	// UpsertCustomRule inserts or replaces a custom-rule definition.
	UpsertCustomRule(ctx context.Context, rule CustomRule) error
	// DeleteCustomRule removes a custom-rule definition if present.
	DeleteCustomRule(ctx context.Context, tenant types.TenantID, ruleName string) error

	// LastUpdate reads the cooldown log. ok is false when no update has been
	// recorded for the key.
	LastUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind) (t time.Time, ok bool, err error)
	// RecordUpdate inserts or replaces a cooldown-log row.
	RecordUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind, at time.Time) error

	// WithTransaction runs fn inside one exclusive transaction and rolls the
	// whole transaction back if fn returns an error.
	WithTransaction(ctx context.Context, fn func(tx Store) error) error
}
