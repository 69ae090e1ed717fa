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

	"github.com/efeban/sylph-verifier/lib/rules"
	"github.com/efeban/sylph-verifier/lib/types"
)

// Verifier is the external verification provider. Lookups may block on the
// network; failures not caused by malformed input are fatal to the calling
// operation.
type Verifier interface {
	rules.AttributeSource

	// LookupDisplayName returns the display name of a verified identity.
	LookupDisplayName(ctx context.Context, identity types.IdentityID) (string, error)
}

// IdentityResolver maps platform members to their linked verified identity,
// if any.
type IdentityResolver interface {
	// LinkedIdentity returns the identity linked to a member. ok is false
	// when the member is unlinked or unverified.
	LinkedIdentity(ctx context.Context, member types.MemberID) (identity types.IdentityID, ok bool, err error)
}

// Platform is the membership platform the computed deltas are applied to.
type Platform interface {
	// Member returns a point-in-time snapshot of a member.
	Member(ctx context.Context, tenant types.TenantID, member types.MemberID) (types.Member, error)

	// CanModify reports whether this process is permitted to modify the
	// member, e.g. change their display name.
	CanModify(ctx context.Context, tenant types.TenantID, member types.MemberID) (bool, error)

	// ApplyMembershipChange edits a member. A nil groups slice leaves
	// memberships untouched; a nil displayName leaves the display name
	// untouched, while a pointer to the empty string clears it.
	ApplyMembershipChange(ctx context.Context, tenant types.TenantID, member types.MemberID, groups []types.GroupID, displayName *string) error
}
