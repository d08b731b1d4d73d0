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

package telemetry

import (
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/tomoncle/oneauth/database"
)

// Reporter captures unexpected errors. Implementations never block the
// caller for long and never panic.
type Reporter interface {
	CaptureException(err error)
	Flush(timeout time.Duration) bool
}

// Config selects and tunes the reporter.
type Config struct {
	SentryDSN        string  `yaml:"sentry_dsn" env:"SENTRY_DSN"`
	SentrySampleRate float64 `yaml:"sentry_sample_rate" env:"SENTRY_SAMPLE_RATE"`
	Environment      string  `yaml:"environment" env:"APP_ENV"`
	Release          string  `yaml:"release" env:"APP_VERSION"`
}

// New returns a Sentry-backed reporter when a DSN is configured and a
// log-backed one otherwise.
func New(cfg Config, logger database.Logger) (Reporter, error) {
	if cfg.SentryDSN == "" {
		return NewLogReporter(logger), nil
	}
	return NewSentryReporter(cfg)
}

// SentryReporter sends errors through its own Sentry hub rather than the
// package-level one, so several reporters can coexist.
type SentryReporter struct {
	hub *sentry.Hub
}

func NewSentryReporter(cfg Config) (*SentryReporter, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		TracesSampleRate: cfg.SentrySampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return &SentryReporter{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (r *SentryReporter) CaptureException(err error) {
	if err == nil {
		return
	}
	r.hub.CaptureException(err)
}

func (r *SentryReporter) Flush(timeout time.Duration) bool {
	return r.hub.Flush(timeout)
}

// LogReporter writes captured errors to the logger.
type LogReporter struct {
	logger database.Logger
}

func NewLogReporter(logger database.Logger) *LogReporter {
	if logger == nil {
		logger = database.NopLogger()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) CaptureException(err error) {
	if err == nil {
		return
	}
	r.logger.Error("Captured exception", "error", err.Error())
}

func (r *LogReporter) Flush(time.Duration) bool { return true }

// Recorder keeps captured errors in memory. Tests use it to assert on what
// was reported.
type Recorder struct {
	mu     sync.Mutex
	errors []error
}

func (r *Recorder) CaptureException(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *Recorder) Flush(time.Duration) bool { return true }

// Errors returns a copy of everything captured so far.
func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errors))
	copy(out, r.errors)
	return out
}

// Nop discards everything.
type Nop struct{}

func (Nop) CaptureException(error) {}

func (Nop) Flush(time.Duration) bool { return true }
