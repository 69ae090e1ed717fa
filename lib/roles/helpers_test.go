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

package roles

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/efeban/sylph-verifier/lib/config"
	"github.com/efeban/sylph-verifier/lib/storage"
	"github.com/efeban/sylph-verifier/lib/storage/memstore"
	"github.com/efeban/sylph-verifier/lib/types"
)

type fakeVerifier struct {
	mu        sync.Mutex
	attrs     map[types.IdentityID]map[string]bool
	names     map[types.IdentityID]string
	lookupErr error
}

func (f *fakeVerifier) EvaluateAttribute(ctx context.Context, identity types.IdentityID, attribute string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attrs[identity][attribute], nil
}

func (f *fakeVerifier) LookupDisplayName(ctx context.Context, identity types.IdentityID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return "", f.lookupErr
	}
	name, ok := f.names[identity]
	if !ok {
		return "", trace.NotFound("identity %d has no display name", identity)
	}
	return name, nil
}

type fakeResolver struct {
	mu    sync.Mutex
	links map[types.MemberID]types.IdentityID
}

func (f *fakeResolver) LinkedIdentity(ctx context.Context, member types.MemberID) (types.IdentityID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity, ok := f.links[member]
	return identity, ok, nil
}

type appliedChange struct {
	member      types.MemberID
	groups      []types.GroupID
	displayName *string
}

type fakePlatform struct {
	mu        sync.Mutex
	members   map[types.MemberID]types.Member
	protected map[types.MemberID]bool
	applyErr  error
	applied   []appliedChange
}

func (f *fakePlatform) Member(ctx context.Context, tenant types.TenantID, member types.MemberID) (types.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[member]
	if !ok {
		return types.Member{}, trace.NotFound("member %d not found", member)
	}
	return m, nil
}

func (f *fakePlatform) CanModify(ctx context.Context, tenant types.TenantID, member types.MemberID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.protected[member], nil
}

func (f *fakePlatform) ApplyMembershipChange(ctx context.Context, tenant types.TenantID, member types.MemberID, groups []types.GroupID, displayName *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, appliedChange{member: member, groups: groups, displayName: displayName})
	return nil
}

func (f *fakePlatform) changes() []appliedChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]appliedChange(nil), f.applied...)
}

// harness is a manager wired to in-memory fakes.
type harness struct {
	manager  *Manager
	store    *memstore.Store
	config   *config.Manager
	clock    *clockwork.FakeClock
	verifier *fakeVerifier
	resolver *fakeResolver
	platform *fakePlatform
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:  memstore.New(),
		config: config.NewManager(),
		clock:  clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		verifier: &fakeVerifier{
			attrs: make(map[types.IdentityID]map[string]bool),
			names: make(map[types.IdentityID]string),
		},
		resolver: &fakeResolver{links: make(map[types.MemberID]types.IdentityID)},
		platform: &fakePlatform{
			members:   make(map[types.MemberID]types.Member),
			protected: make(map[types.MemberID]bool),
		},
	}

	manager, err := NewManager(ManagerConfig{
		Store:    h.store,
		Config:   h.config,
		Verifier: h.verifier,
		Resolver: h.resolver,
		Platform: h.platform,
		Clock:    h.clock,
	})
	require.NoError(t, err)
	h.manager = manager
	return h
}

// seedActive writes an active-role assignment directly to storage,
// bypassing the manager's validation and cache refresh.
func (h *harness) seedActive(t *testing.T, tenant types.TenantID, rule string, group types.GroupID) {
	t.Helper()
	require.NoError(t, h.store.UpsertActiveRule(context.Background(), storage.ActiveRule{
		Tenant:      tenant,
		RuleName:    rule,
		Group:       group,
		LastUpdated: h.clock.Now(),
	}))
}

func (h *harness) seedCustom(t *testing.T, tenant types.TenantID, rule, condition string) {
	t.Helper()
	require.NoError(t, h.store.UpsertCustomRule(context.Background(), storage.CustomRule{
		Tenant:      tenant,
		RuleName:    rule,
		Condition:   condition,
		LastUpdated: h.clock.Now(),
	}))
}

func activeRuleAt(tenant types.TenantID, rule string, group types.GroupID, at time.Time) storage.ActiveRule {
	return storage.ActiveRule{Tenant: tenant, RuleName: rule, Group: group, LastUpdated: at}
}

func customRuleAt(tenant types.TenantID, rule, condition string, at time.Time) storage.CustomRule {
	return storage.CustomRule{Tenant: tenant, RuleName: rule, Condition: condition, LastUpdated: at}
}

// flakyStore wraps a Store so tests can simulate storage outages.
type flakyStore struct {
	storage.Store

	mu        sync.Mutex
	failReads bool
}

func (f *flakyStore) setFailReads(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failReads = fail
}

func (f *flakyStore) ActiveRules(ctx context.Context, tenant types.TenantID) ([]storage.ActiveRule, error) {
	f.mu.Lock()
	fail := f.failReads
	f.mu.Unlock()
	if fail {
		return nil, trace.ConnectionProblem(nil, "storage unavailable")
	}
	return f.Store.ActiveRules(ctx, tenant)
}
