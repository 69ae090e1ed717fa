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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestSetEntryInstall(t *testing.T) {
	t.Parallel()

	cache := newSetCache()
	entry := cache.entry(testTenant)
	require.Same(t, entry, cache.entry(testTenant))
	require.False(t, entry.read().isCompiled())

	// First unforced install wins over the initial state.
	entry.install(setStatus{state: setError, message: "first"}, false)
	require.Equal(t, "first", entry.read().message)

	// An unforced install never clobbers a terminal entry: this models a
	// slow reader whose compile result arrives after a racing writer
	// already installed one.
	entry.install(setStatus{state: setError, message: "late reader"}, false)
	require.Equal(t, "first", entry.read().message)

	// A forced install always wins.
	entry.install(setStatus{state: setCompiled}, true)
	require.Equal(t, setCompiled, entry.read().state)

	// Terminal states swap between each other but never revert.
	entry.install(setStatus{state: setError, message: "second"}, true)
	require.Equal(t, setError, entry.read().state)
	require.True(t, entry.read().isCompiled())
}

func TestSetCacheClearAll(t *testing.T) {
	t.Parallel()

	cache := newSetCache()
	a := cache.entry(1)
	b := cache.entry(2)
	a.install(setStatus{state: setCompiled}, true)
	b.install(setStatus{state: setError, message: "broken"}, true)

	cache.clearAll()
	require.False(t, cache.entry(1).read().isCompiled())
	require.False(t, cache.entry(2).read().isCompiled())
}

func TestClearRuleCacheForcesRecompile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.manager.SetActiveRole(ctx, testTenant, "verified", 101))

	assigned, err := h.manager.GetAssignedRoles(ctx, testTenant, 9000)
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	// Mutate storage behind the manager's back: the cached set keeps
	// serving the stale result until a global invalidation.
	h.seedActive(t, testTenant, "premium", 102)

	assigned, err = h.manager.GetAssignedRoles(ctx, testTenant, 9000)
	require.NoError(t, err)
	require.Len(t, assigned, 1)

	h.manager.ClearRuleCache()

	assigned, err = h.manager.GetAssignedRoles(ctx, testTenant, 9000)
	require.NoError(t, err)
	require.Len(t, assigned, 2)
}

func TestFatalCompileErrorsAreNotCached(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	flaky := &flakyStore{Store: h.store}
	manager, err := NewManager(ManagerConfig{
		Store:    flaky,
		Config:   h.config,
		Verifier: h.verifier,
		Resolver: h.resolver,
		Platform: h.platform,
		Clock:    h.clock,
	})
	require.NoError(t, err)

	h.seedActive(t, testTenant, "verified", 101)

	// A storage failure during compilation is fatal and must not be cached
	// as a compile error.
	flaky.setFailReads(true)
	_, err = manager.CheckError(ctx, testTenant)
	require.Error(t, err)
	require.False(t, trace.IsBadParameter(err))

	// Once storage recovers the next read compiles normally.
	flaky.setFailReads(false)
	message, err := manager.CheckError(ctx, testTenant)
	require.NoError(t, err)
	require.Empty(t, message)
}
