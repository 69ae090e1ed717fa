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

package config

import (
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/efeban/sylph-verifier/lib/defaults"
	"github.com/efeban/sylph-verifier/lib/types"
)

const testTenant = types.TenantID(42)

func TestDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager()

	enabled, err := m.Bool(testTenant, LimitsEnabled)
	require.NoError(t, err)
	require.Equal(t, defaults.LimitsEnabled, enabled)

	max, err := m.Int(testTenant, MaxAssignedRoles)
	require.NoError(t, err)
	require.Equal(t, defaults.MaxAssignedRoles, max)
}

func TestTenantOverrideShadowsGlobal(t *testing.T) {
	t.Parallel()

	m := NewManager()
	other := types.TenantID(43)

	require.NoError(t, m.Set(GlobalScope, MaxAssignedRoles, 30))
	require.NoError(t, m.Set(testTenant, MaxAssignedRoles, 5))

	// The tenant override wins for its tenant only.
	max, err := m.Int(testTenant, MaxAssignedRoles)
	require.NoError(t, err)
	require.Equal(t, 5, max)

	max, err = m.Int(other, MaxAssignedRoles)
	require.NoError(t, err)
	require.Equal(t, 30, max)

	// Unsetting the tenant override falls back to the global value, and
	// unsetting that falls back to the compiled-in default.
	m.Unset(testTenant, MaxAssignedRoles)
	max, err = m.Int(testTenant, MaxAssignedRoles)
	require.NoError(t, err)
	require.Equal(t, 30, max)

	m.Unset(GlobalScope, MaxAssignedRoles)
	max, err = m.Int(testTenant, MaxAssignedRoles)
	require.NoError(t, err)
	require.Equal(t, defaults.MaxAssignedRoles, max)
}

func TestSetRejectsUnknownKey(t *testing.T) {
	t.Parallel()

	m := NewManager()
	err := m.Set(testTenant, Key("roles.no-such-key"), 1)
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestSetRejectsWrongType(t *testing.T) {
	t.Parallel()

	m := NewManager()

	err := m.Set(testTenant, LimitsEnabled, 1)
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))

	err = m.Set(testTenant, MaxInstructions, "lots")
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}

func TestResolveUnknownKey(t *testing.T) {
	t.Parallel()

	m := NewManager()
	_, err := m.Int(testTenant, Key("roles.no-such-key"))
	require.Error(t, err)
	require.True(t, trace.IsBadParameter(err))
}
