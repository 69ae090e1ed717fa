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

// Package defaults holds the process-wide default values for tenant-scoped
// configuration keys.
package defaults

const (
	// LimitsEnabled enables the abuse-prevention resource limits unless a
	// tenant override says otherwise.
	LimitsEnabled = true

	// MaxAssignedRoles is the maximum number of rules that may be bound to a
	// target group at once.
	MaxAssignedRoles = 15

	// MaxCustomRules is the maximum number of custom rule definitions a
	// tenant may hold, active or not.
	MaxCustomRules = 25

	// MaxInstructions caps the aggregate instruction count of a tenant's
	// compiled rule set.
	MaxInstructions = 500

	// MaxWebRequests caps the aggregate number of external identity lookups
	// a single evaluation of the compiled set may perform.
	MaxWebRequests = 10

	// SetDisplayName enables display-name management during role updates.
	SetDisplayName = true
)
