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

// Package rules compiles verification rule conditions into executable form.
//
// A condition is a boolean expression over identity attributes, e.g.
//
//	attr("premium") && !attr("suspended")
//
// Bare identifiers refer to builtin rules, so "verified && premium" is also
// a valid condition. Compilation is pure: it never touches the identity
// being verified. Each compiled rule carries an instruction count and the
// number of external attribute lookups a single evaluation may perform,
// which the role manager checks against per-tenant resource limits.
package rules

import (
	"context"

	"github.com/efeban/sylph-verifier/lib/types"
)

// AttributeSource evaluates a named attribute of a verified identity.
// Implementations typically call out to the external verification provider,
// so evaluation may block.
type AttributeSource interface {
	EvaluateAttribute(ctx context.Context, identity types.IdentityID, attribute string) (bool, error)
}

// Env is the evaluation environment a rule runs against: one identity and
// the source of its attributes.
type Env struct {
	Identity   types.IdentityID
	Attributes AttributeSource
}

// evaluator is the compiled form of a condition. Deterministic for a given
// identity snapshot.
type evaluator func(ctx context.Context, env Env) (bool, error)

// Rule is a single parsed and validated condition.
type Rule struct {
	eval         evaluator
	source       string
	instructions int
	webRequests  int
}

// InstructionCount returns the rule's instruction cost.
func (r *Rule) InstructionCount() int { return r.instructions }

// MaxWebRequests returns how many external attribute lookups one evaluation
// of the rule may perform.
func (r *Rule) MaxWebRequests() int { return r.webRequests }

// Matches evaluates the rule against an identity.
func (r *Rule) Matches(ctx context.Context, env Env) (bool, error) {
	return r.eval(ctx, env)
}

// String returns the rule's condition in source form.
func (r *Rule) String() string { return r.source }
