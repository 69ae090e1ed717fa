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
	"strings"

	"github.com/gravitational/trace"
	"github.com/vulcand/predicate"
)

// compiler accumulates cost counters while a condition is parsed. Operator
// and function constructors run at parse time, so by the time Parse returns
// the counters hold the cost of the whole expression.
type compiler struct {
	instructions int
	webRequests  int
}

func (c *compiler) parser() (predicate.Parser, error) {
	return predicate.NewParser(predicate.Def{
		Operators: predicate.Operators{
			AND: c.and,
			OR:  c.or,
			NOT: c.not,
		},
		Functions: map[string]any{
			"attr": c.attr,
		},
		GetIdentifier: c.identifier,
	})
}

func (c *compiler) and(a, b evaluator) evaluator {
	c.instructions++
	return func(ctx context.Context, env Env) (bool, error) {
		ok, err := a(ctx, env)
		if err != nil || !ok {
			return false, trace.Wrap(err)
		}
		return b(ctx, env)
	}
}

func (c *compiler) or(a, b evaluator) evaluator {
	c.instructions++
	return func(ctx context.Context, env Env) (bool, error) {
		ok, err := a(ctx, env)
		if err != nil || ok {
			return ok, trace.Wrap(err)
		}
		return b(ctx, env)
	}
}

func (c *compiler) not(a evaluator) evaluator {
	c.instructions++
	return func(ctx context.Context, env Env) (bool, error) {
		ok, err := a(ctx, env)
		if err != nil {
			return false, trace.Wrap(err)
		}
		return !ok, nil
	}
}

func (c *compiler) attr(attribute string) evaluator {
	c.instructions++
	c.webRequests++
	return func(ctx context.Context, env Env) (bool, error) {
		return env.Attributes.EvaluateAttribute(ctx, env.Identity, attribute)
	}
}

// identifier resolves bare names in a condition against the builtin
// registry, so conditions can reference builtins directly.
func (c *compiler) identifier(fields []string) (any, error) {
	name := strings.Join(fields, ".")
	builtin, ok := builtins[name]
	if !ok {
		return nil, trace.BadParameter("No rule name '%s' found.", name)
	}
	c.instructions += builtin.instructions
	c.webRequests += builtin.webRequests
	return builtin.eval, nil
}

// Parse compiles a custom condition. Malformed conditions produce a
// BadParameter error suitable for showing to the user who wrote the rule.
func Parse(condition string) (*Rule, error) {
	c := &compiler{}
	p, err := c.parser()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := p.Parse(condition)
	if err != nil {
		return nil, trace.BadParameter("%s", err)
	}
	eval, ok := out.(evaluator)
	if !ok {
		return nil, trace.BadParameter("condition must evaluate to true or false, not %T", out)
	}
	return &Rule{
		eval:         eval,
		source:       condition,
		instructions: c.instructions,
		webRequests:  c.webRequests,
	}, nil
}
