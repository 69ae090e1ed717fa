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
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	compileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sylph_roles_compile_total",
			Help: "Number of rule set compilations, by result.",
		},
		[]string{"result"},
	)
	cacheHitTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sylph_roles_cache_hit_total",
			Help: "Number of reads served from an already compiled cache entry.",
		},
	)

	registerMetricsOnce sync.Once
)

const (
	compileResultOK    = "ok"
	compileResultError = "error"
)

func registerMetrics() {
	registerMetricsOnce.Do(func() {
		prometheus.MustRegister(compileTotal, cacheHitTotal)
	})
}
