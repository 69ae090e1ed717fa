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
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/efeban/sylph-verifier/lib/storage"
	"github.com/efeban/sylph-verifier/lib/types"
	"github.com/efeban/sylph-verifier/lib/utils"
)

type cooldownKey struct {
	tenant types.TenantID
	member types.MemberID
	kind   types.TriggerKind
}

// cooldownCell tracks the last update time for one key. The persisted row is
// loaded lazily on first access; after that the cell is authoritative for
// cooldown checks.
type cooldownCell struct {
	mu     sync.Mutex
	loaded bool
	has    bool
	last   time.Time
}

// cooldownTracker holds the per-key cells. Cells are shared across
// concurrent callers for the lifetime of the process.
type cooldownTracker struct {
	store storage.Store
	clock clockwork.Clock

	mu    sync.Mutex
	cells map[cooldownKey]*cooldownCell
}

func newCooldownTracker(store storage.Store, clock clockwork.Clock) *cooldownTracker {
	return &cooldownTracker{
		store: store,
		clock: clock,
		cells: make(map[cooldownKey]*cooldownCell),
	}
}

func (t *cooldownTracker) cell(key cooldownKey) *cooldownCell {
	t.mu.Lock()
	defer t.mu.Unlock()
	cell, ok := t.cells[key]
	if !ok {
		cell = &cooldownCell{}
		t.cells[key] = cell
	}
	return cell
}

// reserve checks the cooldown for a key and, if it has elapsed, stamps the
// cell at the current time in the same critical section. Concurrent callers
// on the same key observe the reservation immediately, so a second call
// cannot race past the check while the first is still updating. The caller
// must invoke rollback if the update it reserved for does not complete.
func (t *cooldownTracker) reserve(ctx context.Context, key cooldownKey, cooldown time.Duration) (now time.Time, rollback func(), err error) {
	cell := t.cell(key)
	cell.mu.Lock()
	defer cell.mu.Unlock()

	if !cell.loaded {
		last, ok, err := t.store.LastUpdate(ctx, key.tenant, key.member, key.kind)
		if err != nil {
			return time.Time{}, nil, trace.Wrap(err)
		}
		cell.last, cell.has, cell.loaded = last, ok, true
	}

	now = t.clock.Now()
	if cell.has {
		cooldownEnds := cell.last.Add(cooldown)
		if now.Before(cooldownEnds) {
			return time.Time{}, nil, trace.LimitExceeded(
				"You can only update your roles once every %s. Try again in %s.",
				utils.EnglishDuration(cooldown),
				utils.EnglishDuration(cooldownEnds.Sub(now)),
			)
		}
	}

	prevLast, prevHas := cell.last, cell.has
	cell.last, cell.has = now, true
	rollback = func() {
		cell.mu.Lock()
		defer cell.mu.Unlock()
		cell.last, cell.has = prevLast, prevHas
	}
	return now, rollback, nil
}
