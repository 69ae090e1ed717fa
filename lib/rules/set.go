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

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/gravitational/trace"
)

// SetEntry is one named rule inside a compiled set.
type SetEntry struct {
	Name string
	Rule *Rule
}

// Set is the executable aggregate of all active rules for one tenant.
// Immutable once built.
type Set struct {
	entries      []SetEntry
	instructions int
	webRequests  int
}

// Result is one rule's outcome from a Verify call.
type Result struct {
	Rule      string
	Satisfied bool
}

// CompileSet resolves and compiles every named rule into one set. The lookup
// callback returns a rule's custom condition; a custom condition takes
// precedence over a builtin of the same name. A name with neither is a
// compile error naming the missing rule. All user-correctable failures come
// back as BadParameter errors.
func CompileSet(names []string, lookup func(name string) (condition string, ok bool)) (*Set, error) {
	sorted := slices.Clone(names)
	slices.Sort(sorted)

	set := &Set{}
	for _, name := range sorted {
		var rule *Rule
		if condition, ok := lookup(name); ok {
			parsed, err := Parse(condition)
			if err != nil {
				return nil, trace.BadParameter("Failed to parse custom rule '%s': %s", name, trace.UserMessage(err))
			}
			rule = parsed
		} else if builtin, ok := Builtin(name); ok {
			rule = builtin
		} else {
			return nil, trace.BadParameter("No rule name '%s' found.", name)
		}
		set.entries = append(set.entries, SetEntry{Name: name, Rule: rule})
		set.instructions += rule.InstructionCount()
		set.webRequests += rule.MaxWebRequests()
	}
	return set, nil
}

// Entries returns the set's rules in compile order.
func (s *Set) Entries() []SetEntry { return s.entries }

// InstructionCount returns the sum of the member rules' instruction costs.
func (s *Set) InstructionCount() int { return s.instructions }

// MaxWebRequests returns how many external lookups one full evaluation of
// the set may perform.
func (s *Set) MaxWebRequests() int { return s.webRequests }

// Verify evaluates every rule in the set against one identity and returns
// the per-rule outcomes in compile order. A failed external lookup aborts
// the whole evaluation.
func (s *Set) Verify(ctx context.Context, env Env) ([]Result, error) {
	results := make([]Result, 0, len(s.entries))
	for _, entry := range s.entries {
		ok, err := entry.Rule.Matches(ctx, env)
		if err != nil {
			return nil, trace.Wrap(err, "evaluating rule '%s'", entry.Name)
		}
		results = append(results, Result{Rule: entry.Name, Satisfied: ok})
	}
	return results, nil
}

// String renders the set for admins inspecting their configuration.
func (s *Set) String() string {
	if len(s.entries) == 0 {
		return "(no active rules)"
	}
	var b strings.Builder
	for i, entry := range s.entries {
		if i != 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s := %s", entry.Name, entry.Rule)
	}
	return b.String()
}
