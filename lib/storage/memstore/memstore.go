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

// Package memstore is an in-memory storage.Store used in tests and local
// development. Transactions hold the store's write lock for their whole
// duration, and roll back by restoring a snapshot.
package memstore

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/efeban/sylph-verifier/lib/storage"
	"github.com/efeban/sylph-verifier/lib/types"
)

type ruleKey struct {
	tenant types.TenantID
	rule   string
}

type cooldownKey struct {
	tenant types.TenantID
	member types.MemberID
	kind   types.TriggerKind
}

// Store implements storage.Store in memory.
type Store struct {
	mu        sync.RWMutex
	active    map[ruleKey]storage.ActiveRule
	custom    map[ruleKey]storage.CustomRule
	cooldowns map[cooldownKey]time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		active:    make(map[ruleKey]storage.ActiveRule),
		custom:    make(map[ruleKey]storage.CustomRule),
		cooldowns: make(map[cooldownKey]time.Time),
	}
}

// txView exposes the unlocked operations to a transaction closure while the
// outer Store holds the write lock.
type txView struct {
	s *Store
}

func (s *Store) ActiveRules(ctx context.Context, tenant types.TenantID) ([]storage.ActiveRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeRules(tenant), nil
}

func (s *Store) activeRules(tenant types.TenantID) []storage.ActiveRule {
	var out []storage.ActiveRule
	for key, rule := range s.active {
		if key.tenant == tenant {
			out = append(out, rule)
		}
	}
	return out
}

func (s *Store) CustomRules(ctx context.Context, tenant types.TenantID) ([]storage.CustomRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customRules(tenant), nil
}

func (s *Store) customRules(tenant types.TenantID) []storage.CustomRule {
	var out []storage.CustomRule
	for key, rule := range s.custom {
		if key.tenant == tenant {
			out = append(out, rule)
		}
	}
	return out
}

func (s *Store) CountActiveRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countActiveRulesExcept(tenant, ruleName), nil
}

func (s *Store) countActiveRulesExcept(tenant types.TenantID, ruleName string) int {
	n := 0
	for key := range s.active {
		if key.tenant == tenant && key.rule != ruleName {
			n++
		}
	}
	return n
}

func (s *Store) CountCustomRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countCustomRulesExcept(tenant, ruleName), nil
}

func (s *Store) countCustomRulesExcept(tenant types.TenantID, ruleName string) int {
	n := 0
	for key := range s.custom {
		if key.tenant == tenant && key.rule != ruleName {
			n++
		}
	}
	return n
}

func (s *Store) CustomRuleExists(ctx context.Context, tenant types.TenantID, ruleName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.custom[ruleKey{tenant, ruleName}]
	return ok, nil
}

func (s *Store) UpsertActiveRule(ctx context.Context, rule storage.ActiveRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertActiveRule(rule)
	return nil
}

func (s *Store) upsertActiveRule(rule storage.ActiveRule) {
	s.active[ruleKey{rule.Tenant, rule.RuleName}] = rule
}

func (s *Store) DeleteActiveRule(ctx context.Context, tenant types.TenantID, ruleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, ruleKey{tenant, ruleName})
	return nil
}

func (s *Store) UpsertCustomRule(ctx context.Context, rule storage.CustomRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom[ruleKey{rule.Tenant, rule.RuleName}] = rule
	return nil
}

func (s *Store) DeleteCustomRule(ctx context.Context, tenant types.TenantID, ruleName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.custom, ruleKey{tenant, ruleName})
	return nil
}

func (s *Store) LastUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.cooldowns[cooldownKey{tenant, member, kind}]
	return t, ok, nil
}

func (s *Store) RecordUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns[cooldownKey{tenant, member, kind}] = at
	return nil
}

// WithTransaction holds the write lock for the duration of fn, giving it an
// exclusive view. On error the maps are restored from a snapshot.
func (s *Store) WithTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := maps.Clone(s.active)
	custom := maps.Clone(s.custom)
	cooldowns := maps.Clone(s.cooldowns)

	if err := fn(txView{s}); err != nil {
		s.active = active
		s.custom = custom
		s.cooldowns = cooldowns
		return trace.Wrap(err)
	}
	return nil
}

func (v txView) ActiveRules(ctx context.Context, tenant types.TenantID) ([]storage.ActiveRule, error) {
	return v.s.activeRules(tenant), nil
}

func (v txView) CustomRules(ctx context.Context, tenant types.TenantID) ([]storage.CustomRule, error) {
	return v.s.customRules(tenant), nil
}

func (v txView) CountActiveRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error) {
	return v.s.countActiveRulesExcept(tenant, ruleName), nil
}

func (v txView) CountCustomRulesExcept(ctx context.Context, tenant types.TenantID, ruleName string) (int, error) {
	return v.s.countCustomRulesExcept(tenant, ruleName), nil
}

func (v txView) CustomRuleExists(ctx context.Context, tenant types.TenantID, ruleName string) (bool, error) {
	_, ok := v.s.custom[ruleKey{tenant, ruleName}]
	return ok, nil
}

func (v txView) UpsertActiveRule(ctx context.Context, rule storage.ActiveRule) error {
	v.s.upsertActiveRule(rule)
	return nil
}

func (v txView) DeleteActiveRule(ctx context.Context, tenant types.TenantID, ruleName string) error {
	delete(v.s.active, ruleKey{tenant, ruleName})
	return nil
}

func (v txView) UpsertCustomRule(ctx context.Context, rule storage.CustomRule) error {
	v.s.custom[ruleKey{rule.Tenant, rule.RuleName}] = rule
	return nil
}

func (v txView) DeleteCustomRule(ctx context.Context, tenant types.TenantID, ruleName string) error {
	delete(v.s.custom, ruleKey{tenant, ruleName})
	return nil
}

func (v txView) LastUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind) (time.Time, bool, error) {
	t, ok := v.s.cooldowns[cooldownKey{tenant, member, kind}]
	return t, ok, nil
}

func (v txView) RecordUpdate(ctx context.Context, tenant types.TenantID, member types.MemberID, kind types.TriggerKind, at time.Time) error {
	v.s.cooldowns[cooldownKey{tenant, member, kind}] = at
	return nil
}

func (v txView) WithTransaction(ctx context.Context, fn func(tx storage.Store) error) error {
	return trace.BadParameter("transactions do not nest")
}
