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

package sylph

const (
	// ComponentKey is the log attribute key identifying a component.
	ComponentKey = "component"

	// ComponentRoles is the role manager and its compiled-set cache.
	ComponentRoles = "roles"

	// ComponentRules is the rule condition compiler.
	ComponentRules = "rules"

	// ComponentStorage is the persistent store layer.
	ComponentStorage = "storage"
)
