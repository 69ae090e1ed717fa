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
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/efeban/sylph-verifier/lib/types"
)

// fakeAttributes serves attribute lookups from a map and counts them.
type fakeAttributes struct {
	attrs   map[string]bool
	lookups int
}

func (f *fakeAttributes) EvaluateAttribute(ctx context.Context, identity types.IdentityID, attribute string) (bool, error) {
	f.lookups++
	return f.attrs[attribute], nil
}

func testEnv(attrs map[string]bool) (Env, *fakeAttributes) {
	source := &fakeAttributes{attrs: attrs}
	return Env{Identity: 1, Attributes: source}, source
}

func TestParse(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		condition    string
		attrs        map[string]bool
		match        bool
		instructions int
		webRequests  int
	}{
		{
			name:         "single attribute",
			condition:    `attr("premium")`,
			attrs:        map[string]bool{"premium": true},
			match:        true,
			instructions: 1,
			webRequests:  1,
		},
		{
			name:         "conjunction",
			condition:    `attr("premium") && attr("developer")`,
			attrs:        map[string]bool{"premium": true},
			match:        false,
			instructions: 3,
			webRequests:  2,
		},
		{
			name:         "disjunction short circuits",
			condition:    `attr("premium") || attr("developer")`,
			attrs:        map[string]bool{"premium": true},
			match:        true,
			instructions: 3,
			webRequests:  2,
		},
		{
			name:         "negation",
			condition:    `!attr("suspended")`,
			attrs:        map[string]bool{},
			match:        true,
			instructions: 2,
			webRequests:  1,
		},
		{
			name:         "builtin identifier",
			condition:    `verified && attr("premium")`,
			attrs:        map[string]bool{"premium": true},
			match:        true,
			instructions: 3,
			webRequests:  1,
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rule, err := Parse(tc.condition)
			require.NoError(t, err)
			require.Equal(t, tc.instructions, rule.InstructionCount())
			require.Equal(t, tc.webRequests, rule.MaxWebRequests())

			env, _ := testEnv(tc.attrs)
			match, err := rule.Matches(context.Background(), env)
			require.NoError(t, err)
			require.Equal(t, tc.match, match)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	for _, condition := range []string{
		`attr("premium") &&`,
		`unknown_rule`,
		`attr(42)`,
		``,
	} {
		_, err := Parse(condition)
		require.Error(t, err, "condition %q", condition)
		require.True(t, trace.IsBadParameter(err), "condition %q should be a user error, got %v", condition, err)
	}
}

func TestParseIsPure(t *testing.T) {
	t.Parallel()

	// Compilation must never evaluate attributes.
	env, source := testEnv(map[string]bool{"premium": true})
	rule, err := Parse(`attr("premium") && !attr("suspended")`)
	require.NoError(t, err)
	require.Zero(t, source.lookups)

	_, err = rule.Matches(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, 2, source.lookups)
}

func TestBuiltins(t *testing.T) {
	t.Parallel()

	require.True(t, HasBuiltin(BuiltinVerified))
	require.True(t, HasBuiltin("premium"))
	require.False(t, HasBuiltin("nonsense"))

	verified, ok := Builtin(BuiltinVerified)
	require.True(t, ok)
	env, _ := testEnv(nil)
	match, err := verified.Matches(context.Background(), env)
	require.NoError(t, err)
	require.True(t, match)
	require.Zero(t, verified.MaxWebRequests())
}

func TestCompileSet(t *testing.T) {
	t.Parallel()

	conditions := map[string]string{
		"whale": `attr("premium") && attr("big_spender")`,
	}
	lookup := func(name string) (string, bool) {
		c, ok := conditions[name]
		return c, ok
	}

	set, err := CompileSet([]string{"whale", "verified", "premium"}, lookup)
	require.NoError(t, err)

	// Entries come back in sorted order regardless of input order.
	var names []string
	for _, entry := range set.Entries() {
		names = append(names, entry.Name)
	}
	require.Equal(t, []string{"premium", "verified", "whale"}, names)

	// Aggregates are the sums of the member costs.
	require.Equal(t, 1+1+3, set.InstructionCount())
	require.Equal(t, 1+0+2, set.MaxWebRequests())

	env, _ := testEnv(map[string]bool{"premium": true})
	results, err := set.Verify(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, []Result{
		{Rule: "premium", Satisfied: true},
		{Rule: "verified", Satisfied: true},
		{Rule: "whale", Satisfied: false},
	}, results)
}

func TestCompileSetErrors(t *testing.T) {
	t.Parallel()

	noCustom := func(string) (string, bool) { return "", false }

	_, err := CompileSet([]string{"no_such_rule"}, noCustom)
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "no_such_rule")

	_, err = CompileSet([]string{"broken"}, func(string) (string, bool) { return "((", true })
	require.True(t, trace.IsBadParameter(err))
	require.Contains(t, err.Error(), "broken")
}

func TestSetString(t *testing.T) {
	t.Parallel()

	empty, err := CompileSet(nil, func(string) (string, bool) { return "", false })
	require.NoError(t, err)
	require.Equal(t, "(no active rules)", empty.String())

	set, err := CompileSet([]string{"verified", "vip"}, func(name string) (string, bool) {
		if name == "vip" {
			return `attr("premium")`, true
		}
		return "", false
	})
	require.NoError(t, err)
	require.Equal(t, "verified := true\nvip := attr(\"premium\")", set.String())
}
