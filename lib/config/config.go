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

// Package config exposes tenant-scoped configuration keys with process-wide
// defaults. Values set for a specific tenant shadow the global value, which
// in turn shadows the compiled-in default.
package config

import (
	"sync"

	"github.com/gravitational/trace"

	"github.com/efeban/sylph-verifier/lib/defaults"
	"github.com/efeban/sylph-verifier/lib/types"
)

// Key names one configuration setting.
type Key string

const (
	// LimitsEnabled toggles all resource limit checks.
	LimitsEnabled Key = "roles.enable-limits"
	// MaxAssignedRoles caps the number of active rule assignments.
	MaxAssignedRoles Key = "roles.max-assigned"
	// MaxCustomRules caps the number of custom rule definitions.
	MaxCustomRules Key = "roles.max-custom-rules"
	// MaxInstructions caps the compiled set's aggregate instruction count.
	MaxInstructions Key = "roles.max-instructions"
	// MaxWebRequests caps the compiled set's aggregate external lookups.
	MaxWebRequests Key = "roles.max-web-requests"
	// SetDisplayName toggles display-name management on role updates.
	SetDisplayName Key = "roles.set-display-name"
)

// GlobalScope addresses the process-wide value of a key rather than a
// tenant override.
const GlobalScope types.TenantID = 0

var compiledDefaults = map[Key]any{
	LimitsEnabled:    defaults.LimitsEnabled,
	MaxAssignedRoles: defaults.MaxAssignedRoles,
	MaxCustomRules:   defaults.MaxCustomRules,
	MaxInstructions:  defaults.MaxInstructions,
	MaxWebRequests:   defaults.MaxWebRequests,
	SetDisplayName:   defaults.SetDisplayName,
}

type scopedKey struct {
	tenant types.TenantID
	key    Key
}

// Manager resolves configuration values. Safe for concurrent use.
type Manager struct {
	mu     sync.RWMutex
	values map[scopedKey]any
}

// NewManager returns a manager holding only the compiled-in defaults.
func NewManager() *Manager {
	return &Manager{values: make(map[scopedKey]any)}
}

// Set stores an override for a key. Use GlobalScope as the tenant to set the
// process-wide value.
func (m *Manager) Set(tenant types.TenantID, key Key, value any) error {
	def, ok := compiledDefaults[key]
	if !ok {
		return trace.BadParameter("unknown configuration key %q", string(key))
	}
	switch def.(type) {
	case bool:
		if _, ok := value.(bool); !ok {
			return trace.BadParameter("configuration key %q expects a bool, got %T", string(key), value)
		}
	case int:
		if _, ok := value.(int); !ok {
			return trace.BadParameter("configuration key %q expects an int, got %T", string(key), value)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[scopedKey{tenant, key}] = value
	return nil
}

// Unset removes an override, falling back to the wider scope.
func (m *Manager) Unset(tenant types.TenantID, key Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, scopedKey{tenant, key})
}

func (m *Manager) resolve(tenant types.TenantID, key Key) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.values[scopedKey{tenant, key}]; ok {
		return v, nil
	}
	if tenant != GlobalScope {
		if v, ok := m.values[scopedKey{GlobalScope, key}]; ok {
			return v, nil
		}
	}
	if v, ok := compiledDefaults[key]; ok {
		return v, nil
	}
	return nil, trace.BadParameter("unknown configuration key %q", string(key))
}

// Bool resolves a boolean key for a tenant.
func (m *Manager) Bool(tenant types.TenantID, key Key) (bool, error) {
	v, err := m.resolve(tenant, key)
	if err != nil {
		return false, trace.Wrap(err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, trace.BadParameter("configuration key %q is not a bool", string(key))
	}
	return b, nil
}

// Int resolves an integer key for a tenant.
func (m *Manager) Int(tenant types.TenantID, key Key) (int, error) {
	v, err := m.resolve(tenant, key)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	n, ok := v.(int)
	if !ok {
		return 0, trace.BadParameter("configuration key %q is not an int", string(key))
	}
	return n, nil
}
