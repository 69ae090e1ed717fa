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
	"sync"

	"github.com/efeban/sylph-verifier/lib/rules"
	"github.com/efeban/sylph-verifier/lib/types"
)

type setState int

const (
	setNotCompiled setState = iota
	setError
	setCompiled
)

// setStatus is one tenant's cached compile result. A status only ever moves
// from setNotCompiled to a terminal state; forced refreshes replace one
// terminal state with another, never going back to setNotCompiled.
type setStatus struct {
	state setState
	// message is the user-correctable compile error, set iff state is
	// setError. Fatal errors are never cached.
	message string
	// set and groups are set iff state is setCompiled.
	set    *rules.Set
	groups map[string]types.GroupID
}

// isCompiled reports whether the status is terminal (compiled successfully
// or failed with a user-correctable error).
func (s setStatus) isCompiled() bool {
	return s.state != setNotCompiled
}

// setEntry is one tenant's cache slot. The entry's own lock lets readers of
// one tenant proceed in parallel and keeps writes to unrelated tenants from
// contending with each other.
type setEntry struct {
	mu     sync.RWMutex
	status setStatus
}

// setCache is the per-tenant compiled-set cache. Entries are created lazily
// on first access; the outer lock only guards the map itself.
type setCache struct {
	mu      sync.RWMutex
	entries map[types.TenantID]*setEntry
}

func newSetCache() *setCache {
	return &setCache{entries: make(map[types.TenantID]*setEntry)}
}

func (c *setCache) entry(tenant types.TenantID) *setEntry {
	c.mu.RLock()
	entry, ok := c.entries[tenant]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[tenant]; ok {
		return entry
	}
	entry = &setEntry{}
	c.entries[tenant] = entry
	return entry
}

// read returns the entry's current status under the shared lock.
func (e *setEntry) read() setStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// install writes a freshly computed status. A forced install always wins; an
// unforced install is discarded when a racing compile already installed a
// terminal status, so a reader can never clobber a newer result.
func (e *setEntry) install(status setStatus, force bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if force || !e.status.isCompiled() {
		e.status = status
	}
}

// clearAll discards every cached entry. The next access on any tenant
// recompiles from storage.
func (c *setCache) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[types.TenantID]*setEntry)
}
