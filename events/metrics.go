/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package events

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchedCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneauth",
			Subsystem: "user_events",
			Name:      "dispatched_total",
			Help:      "User events by type and outcome (published, failed, dropped).",
		},
		[]string{"type", "outcome"},
	)
	attemptsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "oneauth",
			Subsystem: "user_events",
			Name:      "publish_attempts_total",
			Help:      "Publish attempts, retries included.",
		},
		[]string{"type"},
	)
	registerMetricsOnce sync.Once
)

// RegisterMetrics registers the dispatcher collectors once.
func RegisterMetrics(reg prometheus.Registerer) {
	registerMetricsOnce.Do(func() {
		reg.MustRegister(dispatchedCounter, attemptsCounter)
	})
}
