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

// Package roles grants and revokes group memberships for verified identities
// by evaluating per-tenant rule sets, subject to resource limits and
// per-member cooldowns.
//
// The Manager is constructed once at startup and shared by reference across
// request handlers. Compiled rule sets are cached per tenant; configuration
// mutations force a recompile so readers always observe fresh results.
package roles

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	sylph "github.com/efeban/sylph-verifier"
	"github.com/efeban/sylph-verifier/lib/config"
	"github.com/efeban/sylph-verifier/lib/rules"
	"github.com/efeban/sylph-verifier/lib/storage"
	"github.com/efeban/sylph-verifier/lib/types"
)

// ManagerConfig holds the collaborators a Manager needs.
type ManagerConfig struct {
	// Store is the persistent store for rule configuration and the
	// cooldown log.
	Store storage.Store
	// Config resolves tenant-scoped configuration keys.
	Config *config.Manager
	// Verifier is the external verification provider.
	Verifier Verifier
	// Resolver maps members to their linked identities.
	Resolver IdentityResolver
	// Platform applies membership and display-name changes.
	Platform Platform
	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock
	// Log is the logger. Defaults to the process logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ManagerConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("role manager config missing store")
	}
	if c.Config == nil {
		return trace.BadParameter("role manager config missing config manager")
	}
	if c.Verifier == nil {
		return trace.BadParameter("role manager config missing verifier")
	}
	if c.Resolver == nil {
		return trace.BadParameter("role manager config missing identity resolver")
	}
	if c.Platform == nil {
		return trace.BadParameter("role manager config missing membership platform")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.With(sylph.ComponentKey, sylph.ComponentRoles)
	}
	return nil
}

// Manager orchestrates rule configuration, compilation and evaluation for
// all tenants. Safe for concurrent use.
type Manager struct {
	cfg       ManagerConfig
	cache     *setCache
	cooldowns *cooldownTracker
}

// NewManager returns a role manager. Construct one per process and share it.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	registerMetrics()
	return &Manager{
		cfg:       cfg,
		cache:     newSetCache(),
		cooldowns: newCooldownTracker(cfg.Store, cfg.Clock),
	}, nil
}

// getConfiguration joins the two persisted relations into rule slots. A slot
// present in both sources appears once, with the custom condition attached
// to the active assignment and the later of the two update times.
func (m *Manager) getConfiguration(ctx context.Context, store storage.Store, tenant types.TenantID) (map[string]types.ConfiguredRole, int, int, error) {
	active, err := store.ActiveRules(ctx, tenant)
	if err != nil {
		return nil, 0, 0, trace.Wrap(err)
	}
	custom, err := store.CustomRules(ctx, tenant)
	if err != nil {
		return nil, 0, 0, trace.Wrap(err)
	}

	configuration := make(map[string]types.ConfiguredRole, len(active)+len(custom))
	for _, rule := range active {
		configuration[rule.RuleName] = types.ConfiguredRole{
			TargetGroup: rule.Group,
			LastUpdated: rule.LastUpdated,
		}
	}
	for _, rule := range custom {
		if slot, ok := configuration[rule.RuleName]; ok {
			slot.CustomCondition = rule.Condition
			if slot.LastUpdated.Before(rule.LastUpdated) {
				slot.LastUpdated = rule.LastUpdated
			}
			configuration[rule.RuleName] = slot
		} else {
			configuration[rule.RuleName] = types.ConfiguredRole{
				CustomCondition: rule.Condition,
				LastUpdated:     rule.LastUpdated,
			}
		}
	}
	return configuration, len(active), len(custom), nil
}

// GetConfiguration returns a read-only snapshot of a tenant's rule slots.
func (m *Manager) GetConfiguration(ctx context.Context, tenant types.TenantID) (map[string]types.ConfiguredRole, error) {
	configuration, _, _, err := m.getConfiguration(ctx, m.cfg.Store, tenant)
	return configuration, trace.Wrap(err)
}

// buildForTenant compiles a tenant's configuration into a cache status.
// Limit violations and parse failures come back as an error status, never as
// a Go error: they are expected, user-correctable states. Only fatal
// failures (storage, configuration resolution) return an error, and those
// are never cached.
func (m *Manager) buildForTenant(ctx context.Context, tenant types.TenantID) (setStatus, error) {
	configuration, activeCount, customCount, err := m.getConfiguration(ctx, m.cfg.Store, tenant)
	if err != nil {
		return setStatus{}, trace.Wrap(err)
	}

	limitsEnabled, err := m.cfg.Config.Bool(tenant, config.LimitsEnabled)
	if err != nil {
		return setStatus{}, trace.Wrap(err)
	}
	if limitsEnabled {
		maxAssigned, err := m.cfg.Config.Int(tenant, config.MaxAssignedRoles)
		if err != nil {
			return setStatus{}, trace.Wrap(err)
		}
		if activeCount > maxAssigned {
			return setStatus{state: setError, message: fmt.Sprintf(
				"Too many roles are configured to be assigned. (%d roles are active, maximum is %d.)",
				activeCount, maxAssigned)}, nil
		}

		maxCustom, err := m.cfg.Config.Int(tenant, config.MaxCustomRules)
		if err != nil {
			return setStatus{}, trace.Wrap(err)
		}
		if customCount > maxCustom {
			return setStatus{state: setError, message: fmt.Sprintf(
				"Too many custom roles exist. (%d custom roles exist, maximum is %d.)",
				customCount, maxCustom)}, nil
		}
	}

	var activeNames []string
	for name, slot := range configuration {
		if slot.Active() {
			activeNames = append(activeNames, name)
		}
	}

	set, err := rules.CompileSet(activeNames, func(name string) (string, bool) {
		slot, ok := configuration[name]
		if !ok || slot.CustomCondition == "" {
			return "", false
		}
		return slot.CustomCondition, true
	})
	if err != nil {
		if trace.IsBadParameter(err) {
			return setStatus{state: setError, message: trace.UserMessage(err)}, nil
		}
		return setStatus{}, trace.Wrap(err)
	}

	if limitsEnabled {
		maxInstructions, err := m.cfg.Config.Int(tenant, config.MaxInstructions)
		if err != nil {
			return setStatus{}, trace.Wrap(err)
		}
		if set.InstructionCount() > maxInstructions {
			return setStatus{state: setError, message: fmt.Sprintf(
				"Role configuration is too complex. (Complexity is %d, maximum is %d.)",
				set.InstructionCount(), maxInstructions)}, nil
		}

		maxWebRequests, err := m.cfg.Config.Int(tenant, config.MaxWebRequests)
		if err != nil {
			return setStatus{}, trace.Wrap(err)
		}
		if set.MaxWebRequests() > maxWebRequests {
			return setStatus{state: setError, message: fmt.Sprintf(
				"Role configuration makes too many web requests. (Configuration makes %d web requests, maximum is %d.)",
				set.MaxWebRequests(), maxWebRequests)}, nil
		}
	}

	groups := make(map[string]types.GroupID)
	for name, slot := range configuration {
		if slot.Active() {
			groups[name] = slot.TargetGroup
		}
	}
	return setStatus{state: setCompiled, set: set, groups: groups}, nil
}

// updateCachedSet recompiles a tenant's entry if needed. A forced update
// always recomputes and installs; an unforced update is a no-op when the
// entry is already terminal, and otherwise installs only if the entry is
// still not terminal by the time the result is ready.
func (m *Manager) updateCachedSet(ctx context.Context, entry *setEntry, tenant types.TenantID, force bool) error {
	if !force && entry.read().isCompiled() {
		cacheHitTotal.Inc()
		return nil
	}
	status, err := m.buildForTenant(ctx, tenant)
	if err != nil {
		return trace.Wrap(err)
	}
	if status.state == setError {
		compileTotal.WithLabelValues(compileResultError).Inc()
	} else {
		compileTotal.WithLabelValues(compileResultOK).Inc()
	}
	entry.install(status, force)
	return nil
}

// compiledStatus returns a tenant's cache status, compiling first if needed.
func (m *Manager) compiledStatus(ctx context.Context, tenant types.TenantID, force bool) (setStatus, error) {
	entry := m.cache.entry(tenant)
	if err := m.updateCachedSet(ctx, entry, tenant, force); err != nil {
		return setStatus{}, trace.Wrap(err)
	}
	return entry.read(), nil
}

func (m *Manager) refreshCache(ctx context.Context, tenant types.TenantID) error {
	_, err := m.compiledStatus(ctx, tenant, true)
	return trace.Wrap(err)
}

// SetActiveRole binds a rule to a target group, or clears the binding when
// group is zero. The rule-existence check, the prospective count check and
// the write all run inside one exclusive transaction so two concurrent
// additions cannot both slip under the limit.
func (m *Manager) SetActiveRole(ctx context.Context, tenant types.TenantID, ruleName string, group types.GroupID) error {
	err := m.cfg.Store.WithTransaction(ctx, func(tx storage.Store) error {
		exists := rules.HasBuiltin(ruleName)
		if !exists {
			defined, err := tx.CustomRuleExists(ctx, tenant, ruleName)
			if err != nil {
				return trace.Wrap(err)
			}
			exists = defined
		}
		if !exists {
			return trace.BadParameter("No rule name '%s' found.", ruleName)
		}

		if group == 0 {
			return trace.Wrap(tx.DeleteActiveRule(ctx, tenant, ruleName))
		}

		limitsEnabled, err := m.cfg.Config.Bool(tenant, config.LimitsEnabled)
		if err != nil {
			return trace.Wrap(err)
		}
		if limitsEnabled {
			maxAssigned, err := m.cfg.Config.Int(tenant, config.MaxAssignedRoles)
			if err != nil {
				return trace.Wrap(err)
			}
			assignedCount, err := tx.CountActiveRulesExcept(ctx, tenant, ruleName)
			if err != nil {
				return trace.Wrap(err)
			}
			if assignedCount+1 > maxAssigned {
				return trace.LimitExceeded(
					"Too many roles are configured to be assigned. (Including '%s', %d roles are active, maximum is %d.)",
					ruleName, assignedCount+1, maxAssigned)
			}
		}

		return trace.Wrap(tx.UpsertActiveRule(ctx, storage.ActiveRule{
			Tenant:      tenant,
			RuleName:    ruleName,
			Group:       group,
			LastUpdated: m.cfg.Clock.Now(),
		}))
	})
	if err != nil {
		return trace.Wrap(err)
	}
	return m.refreshCache(ctx, tenant)
}

// SetCustomRule defines or replaces a custom rule, or deletes it when the
// condition is empty. The condition must parse before anything is written.
func (m *Manager) SetCustomRule(ctx context.Context, tenant types.TenantID, ruleName string, condition string) error {
	if condition != "" {
		if _, err := rules.Parse(condition); err != nil {
			return trace.BadParameter("Failed to parse custom rule: %s", trace.UserMessage(err))
		}

		err := m.cfg.Store.WithTransaction(ctx, func(tx storage.Store) error {
			limitsEnabled, err := m.cfg.Config.Bool(tenant, config.LimitsEnabled)
			if err != nil {
				return trace.Wrap(err)
			}
			if limitsEnabled {
				maxCustom, err := m.cfg.Config.Int(tenant, config.MaxCustomRules)
				if err != nil {
					return trace.Wrap(err)
				}
				customCount, err := tx.CountCustomRulesExcept(ctx, tenant, ruleName)
				if err != nil {
					return trace.Wrap(err)
				}
				if customCount+1 > maxCustom {
					return trace.LimitExceeded(
						"Too many custom rules exist. (Including '%s', %d rules exist, maximum is %d.)",
						ruleName, customCount+1, maxCustom)
				}
			}

			return trace.Wrap(tx.UpsertCustomRule(ctx, storage.CustomRule{
				Tenant:      tenant,
				RuleName:    ruleName,
				Condition:   condition,
				LastUpdated: m.cfg.Clock.Now(),
			}))
		})
		if err != nil {
			return trace.Wrap(err)
		}
	} else {
		if err := m.cfg.Store.DeleteCustomRule(ctx, tenant, ruleName); err != nil {
			return trace.Wrap(err)
		}
	}
	return m.refreshCache(ctx, tenant)
}

// CheckError returns the tenant's compile error message, or the empty string
// when the configuration compiles cleanly. Intended for admins; the message
// is verbatim.
func (m *Manager) CheckError(ctx context.Context, tenant types.TenantID) (string, error) {
	status, err := m.compiledStatus(ctx, tenant, false)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if status.state == setError {
		return status.message, nil
	}
	return "", nil
}

// GetAssignedRoles evaluates every active rule against an identity and
// returns, per rule, whether it is satisfied and which group it targets.
func (m *Manager) GetAssignedRoles(ctx context.Context, tenant types.TenantID, identity types.IdentityID) ([]types.AssignedRole, error) {
	status, err := m.compiledStatus(ctx, tenant, false)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	switch status.state {
	case setCompiled:
		results, err := status.set.Verify(ctx, rules.Env{
			Identity:   identity,
			Attributes: m.cfg.Verifier,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		assigned := make([]types.AssignedRole, 0, len(results))
		for _, result := range results {
			assigned = append(assigned, types.AssignedRole{
				Rule:     result.Rule,
				Group:    status.groups[result.Rule],
				Assigned: result.Satisfied,
			})
		}
		return assigned, nil
	case setError:
		// The raw compile error is for admins only.
		return nil, trace.BadParameter(
			"There is a problem with this community's role configuration. Please contact the community admins.")
	default:
		return nil, trace.Errorf("rule cache entry is still not compiled after update (this is a bug)")
	}
}

// AssignRoles computes and applies the membership delta for a member. With
// an identity, every satisfied rule's group is added and every unsatisfied
// rule's group removed. Without one, every configured target group is
// removed. Non-managed memberships are never touched, and no platform call
// is made when nothing changes.
func (m *Manager) AssignRoles(ctx context.Context, tenant types.TenantID, memberID types.MemberID, identity *types.IdentityID) (types.SetRolesStatus, error) {
	member, err := m.cfg.Platform.Member(ctx, tenant, memberID)
	if err != nil {
		return types.SetRolesSuccess, trace.Wrap(err)
	}
	canModify, err := m.cfg.Platform.CanModify(ctx, tenant, memberID)
	if err != nil {
		return types.SetRolesSuccess, trace.Wrap(err)
	}
	manageNames, err := m.cfg.Config.Bool(tenant, config.SetDisplayName)
	if err != nil {
		return types.SetRolesSuccess, trace.Wrap(err)
	}

	var displayName *string
	if canModify && manageNames {
		var target string
		if identity != nil {
			target, err = m.cfg.Verifier.LookupDisplayName(ctx, *identity)
			if err != nil {
				return types.SetRolesSuccess, trace.Wrap(err)
			}
		}
		if target != member.DisplayName {
			displayName = &target
		}
	}

	orig := make(map[types.GroupID]struct{}, len(member.Groups))
	for _, group := range member.Groups {
		orig[group] = struct{}{}
	}
	desired := maps.Clone(orig)

	if identity != nil {
		assigned, err := m.GetAssignedRoles(ctx, tenant, *identity)
		if err != nil {
			return types.SetRolesSuccess, trace.Wrap(err)
		}
		for _, role := range assigned {
			if role.Assigned {
				desired[role.Group] = struct{}{}
			} else {
				delete(desired, role.Group)
			}
		}
	} else {
		configuration, err := m.GetConfiguration(ctx, tenant)
		if err != nil {
			return types.SetRolesSuccess, trace.Wrap(err)
		}
		for _, slot := range configuration {
			if slot.Active() {
				delete(desired, slot.TargetGroup)
			}
		}
	}

	var groups []types.GroupID
	if !maps.Equal(orig, desired) {
		groups = make([]types.GroupID, 0, len(desired))
		for group := range desired {
			groups = append(groups, group)
		}
		slices.Sort(groups)
	}

	m.cfg.Log.DebugContext(ctx, "Computed membership delta.",
		"tenant", tenant, "member", memberID,
		"groups_changed", groups != nil, "display_name_changed", displayName != nil)

	if groups != nil || displayName != nil {
		if err := m.cfg.Platform.ApplyMembershipChange(ctx, tenant, memberID, groups, displayName); err != nil {
			return types.SetRolesSuccess, trace.Wrap(err)
		}
	}

	if !canModify && manageNames {
		return types.SetRolesMemberProtected, nil
	}
	return types.SetRolesSuccess, nil
}

// UpdateUser resolves a member's linked identity and applies their roles.
func (m *Manager) UpdateUser(ctx context.Context, tenant types.TenantID, member types.MemberID) (types.SetRolesStatus, error) {
	identity, ok, err := m.cfg.Resolver.LinkedIdentity(ctx, member)
	if err != nil {
		return types.SetRolesSuccess, trace.Wrap(err)
	}
	var linked *types.IdentityID
	if ok {
		linked = &identity
	}
	return m.AssignRoles(ctx, tenant, member, linked)
}

// UpdateUserWithCooldown is UpdateUser behind a per-(tenant, member,
// trigger-kind) rate limit. The cooldown slot is reserved atomically before
// the update and rolled back if the update or the cooldown-log write fails,
// so a failed attempt does not consume the slot.
func (m *Manager) UpdateUserWithCooldown(ctx context.Context, tenant types.TenantID, member types.MemberID, cooldown time.Duration, kind types.TriggerKind) (types.SetRolesStatus, error) {
	if err := kind.Check(); err != nil {
		return types.SetRolesSuccess, trace.Wrap(err)
	}
	key := cooldownKey{tenant: tenant, member: member, kind: kind}
	now, rollback, err := m.cooldowns.reserve(ctx, key, cooldown)
	if err != nil {
		return types.SetRolesSuccess, trace.Wrap(err)
	}

	status, err := m.UpdateUser(ctx, tenant, member)
	if err != nil {
		rollback()
		return status, trace.Wrap(err)
	}
	if err := m.cfg.Store.RecordUpdate(ctx, tenant, member, kind, now); err != nil {
		rollback()
		return status, trace.Wrap(err)
	}
	return status, nil
}

// ExplainRuleSet renders a tenant's compiled rule set for admins, or the
// compile error message when the configuration does not compile.
func (m *Manager) ExplainRuleSet(ctx context.Context, tenant types.TenantID) (string, error) {
	status, err := m.compiledStatus(ctx, tenant, false)
	if err != nil {
		return "", trace.Wrap(err)
	}
	switch status.state {
	case setCompiled:
		return status.set.String(), nil
	case setError:
		return fmt.Sprintf("Could not compile: %s", status.message), nil
	default:
		return "", trace.Errorf("rule cache entry is still not compiled after update (this is a bug)")
	}
}

// ClearRuleCache discards every tenant's cached compile result. Used for
// global invalidation events such as a configuration-format change.
func (m *Manager) ClearRuleCache() {
	m.cache.clearAll()
}
