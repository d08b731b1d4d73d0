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

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func (m *connManager) startMonitor() {
	m.monitorMu.Lock()
	defer m.monitorMu.Unlock()
	if m.stopMonitor != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.stopMonitor, m.monitorDone = cancel, done
	go m.monitor(ctx, done)
}

// haltMonitor stops the health monitor and waits for it to exit.
func (m *connManager) haltMonitor() {
	m.monitorMu.Lock()
	cancel, done := m.stopMonitor, m.monitorDone
	m.stopMonitor, m.monitorDone = nil, nil
	m.monitorMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// monitor checks the connection every HealthCheckInterval. Each failed check
// is reported and, with EnableReconnect, followed by up to MaxReconnectTries
// reconnect attempts spaced ReconnectInterval apart. The next tick starts a
// fresh round when all of them fail.
func (m *connManager) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status := m.HealthCheck(ctx)
		if ctx.Err() != nil {
			return
		}
		if status.Healthy {
			continue
		}
		m.logger.Warn("Database health check failed", "error", status.LastError)
		m.reporter.CaptureException(fmt.Errorf("%w: %s", ErrUnhealthy, status.LastError))
		if m.cfg.EnableReconnect {
			m.reconnectWithRetry(ctx)
		}
	}
}

func (m *connManager) reconnectWithRetry(ctx context.Context) {
	tries := m.cfg.MaxReconnectTries
	if tries <= 0 {
		tries = 1
	}
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		m.logger.Info("Reconnecting to database", "attempt", attempt)
		return struct{}{}, m.Reconnect(ctx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.ReconnectInterval)),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.logger.Warn("Reconnect attempt failed", "error", err, "retry_in", next)
		}),
	)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.logger.Error("Giving up reconnecting to database", "attempts", attempt, "error", err)
		m.reporter.CaptureException(fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, attempt, err))
		return
	}

	m.mu.Lock()
	m.reconnects++
	m.mu.Unlock()
	m.logger.Info("Database reconnected", "attempts", attempt)
}
