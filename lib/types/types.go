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

// Package types holds the identifier and record types shared between the
// role manager, the rule compiler and the storage layer.
package types

import (
	"time"

	"github.com/gravitational/trace"
)

// TenantID identifies an independently configured community. Every tenant
// owns its own rule configuration, limits and cache entry.
type TenantID uint64

// MemberID identifies a member record on the membership platform. Membership
// and display-name mutations are addressed to members.
type MemberID uint64

// GroupID identifies a group a rule may assign or revoke.
type GroupID uint64

// IdentityID identifies the externally verified identity whose attributes
// rules evaluate. Distinct from MemberID: a member may have no linked
// identity at all.
type IdentityID uint64

// TriggerKind says whether a role update was requested explicitly by a user
// or ran automatically. Cooldowns are tracked separately per kind.
type TriggerKind string

const (
	// TriggerManual marks updates requested explicitly by a user.
	TriggerManual TriggerKind = "manual"
	// TriggerAutomatic marks updates performed by the system itself.
	TriggerAutomatic TriggerKind = "automatic"
)

// Check validates the trigger kind value.
func (k TriggerKind) Check() error {
	switch k {
	case TriggerManual, TriggerAutomatic:
		return nil
	}
	return trace.BadParameter("trigger kind %q is not supported", string(k))
}

// ConfiguredRole is one rule slot in a tenant's configuration, joined from
// the active-role assignments and the custom-rule definitions.
type ConfiguredRole struct {
	// TargetGroup is the group the rule assigns. Zero when the rule exists
	// only as a definition and is not an active assignment.
	TargetGroup GroupID
	// CustomCondition is the custom condition source, empty for rules that
	// resolve against the builtin registry.
	CustomCondition string
	// LastUpdated is the later of the two source rows when the slot is
	// present in both.
	LastUpdated time.Time
}

// Active reports whether the rule is bound to a target group and therefore
// eligible to be compiled and to affect membership.
func (r ConfiguredRole) Active() bool {
	return r.TargetGroup != 0
}

// AssignedRole is one rule's outcome for one identity. Produced fresh per
// evaluation, never cached.
type AssignedRole struct {
	// Rule is the rule name.
	Rule string
	// Group is the rule's target group.
	Group GroupID
	// Assigned reports whether the identity currently satisfies the rule.
	Assigned bool
}

// Member is a point-in-time snapshot of a platform member, as returned by
// the membership platform.
type Member struct {
	// ID is the member identifier.
	ID MemberID
	// Groups are the member's current group memberships.
	Groups []GroupID
	// DisplayName is the member's current display name, empty when unset.
	DisplayName string
}

// SetRolesStatus distinguishes an ordinary membership update from one where
// the caller lacked permission to modify the member, so the display name was
// left alone.
type SetRolesStatus int

const (
	// SetRolesSuccess means the full update was applied (or nothing needed
	// changing).
	SetRolesSuccess SetRolesStatus = iota
	// SetRolesMemberProtected means the caller cannot modify this member, so
	// the display-name portion of the update did not take effect.
	SetRolesMemberProtected
)
