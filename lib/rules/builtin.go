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

package rules

import "context"

// BuiltinVerified is satisfied by every linked identity: evaluation only
// runs for identities that passed verification.
const BuiltinVerified = "verified"

func attrRule(attribute string) *Rule {
	return &Rule{
		eval: func(ctx context.Context, env Env) (bool, error) {
			return env.Attributes.EvaluateAttribute(ctx, env.Identity, attribute)
		},
		source:       `attr("` + attribute + `")`,
		instructions: 1,
		webRequests:  1,
	}
}

// builtins is the fixed registry rule names resolve against when no custom
// condition is defined.
var builtins = map[string]*Rule{
	BuiltinVerified: {
		eval: func(ctx context.Context, env Env) (bool, error) {
			return true, nil
		},
		source:       "true",
		instructions: 1,
	},
	"premium":   attrRule("premium"),
	"developer": attrRule("developer"),
}

// HasBuiltin reports whether a rule name resolves against the builtin
// registry.
func HasBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// Builtin returns the builtin rule registered under a name.
func Builtin(name string) (*Rule, bool) {
	r, ok := builtins[name]
	return r, ok
}
