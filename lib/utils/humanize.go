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

package utils

import (
	"fmt"
	"strings"
	"time"
)

// EnglishDuration renders a duration the way cooldown messages show it to
// users, e.g. "5 minutes" or "1 hour 30 seconds". Sub-second durations
// render as "less than a second".
func EnglishDuration(d time.Duration) string {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return "less than a second"
	}

	units := []struct {
		name string
		size int64
	}{
		{"day", 24 * 60 * 60},
		{"hour", 60 * 60},
		{"minute", 60},
		{"second", 1},
	}

	var parts []string
	for _, unit := range units {
		n := secs / unit.size
		secs %= unit.size
		if n == 0 {
			continue
		}
		if n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", unit.name))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", n, unit.name))
		}
	}
	return strings.Join(parts, " ")
}
