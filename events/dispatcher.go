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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/tomoncle/oneauth/database"
	"github.com/tomoncle/oneauth/telemetry"
)

var (
	ErrQueueFull        = errors.New("event queue is full")
	ErrDispatcherClosed = errors.New("event dispatcher is closed")
)

// Config tunes the dispatcher and selects its publisher.
type Config struct {
	Workers        int           `yaml:"workers" env:"EVENTS_WORKERS"`
	QueueSize      int           `yaml:"queue_size" env:"EVENTS_QUEUE_SIZE"`
	MaxRetries     uint          `yaml:"max_retries" env:"EVENTS_MAX_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"EVENTS_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"EVENTS_MAX_BACKOFF"`
	PublishTimeout time.Duration `yaml:"publish_timeout" env:"EVENTS_PUBLISH_TIMEOUT"`
	RedisAddr      string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword  string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB        int           `yaml:"redis_db" env:"REDIS_DB"`
	Channel        string        `yaml:"channel" env:"EVENTS_CHANNEL"`
}

// DefaultConfig returns the dispatcher defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      256,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		PublishTimeout: 5 * time.Second,
		Channel:        "oneauth.users",
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = def.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = def.PublishTimeout
	}
	return c
}

// NewPublisher connects to Redis when an address is configured and falls back
// to logging otherwise. The returned closer releases the connection.
func NewPublisher(ctx context.Context, cfg Config, logger database.Logger) (Publisher, func() error, error) {
	if cfg.RedisAddr == "" {
		return NewLogPublisher(logger), func() error { return nil }, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return NewRedisPublisher(client, cfg.Channel), client.Close, nil
}

// Dispatcher delivers user events in the background. Enqueueing never blocks;
// delivery is retried with exponential backoff and final failures are logged
// and captured, never returned to the code that raised the event.
type Dispatcher struct {
	publisher Publisher
	reporter  telemetry.Reporter
	logger    database.Logger
	cfg       Config

	queue  chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDispatcher starts cfg.Workers delivery goroutines.
func NewDispatcher(publisher Publisher, reporter telemetry.Reporter, logger database.Logger, cfg Config) *Dispatcher {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	if logger == nil {
		logger = database.NopLogger()
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		publisher: publisher,
		reporter:  reporter,
		logger:    logger,
		cfg:       cfg,
		queue:     make(chan Event, cfg.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
	return d
}

func (d *Dispatcher) UserCreated(userID int64) error {
	return d.Enqueue(NewEvent(UserCreated, userID))
}

func (d *Dispatcher) UserUpdated(userID int64) error {
	return d.Enqueue(NewEvent(UserUpdated, userID))
}

// Enqueue hands evt to the workers without waiting for delivery.
func (d *Dispatcher) Enqueue(evt Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	select {
	case d.queue <- evt:
		return nil
	default:
		dispatchedCounter.WithLabelValues(string(evt.Type), "dropped").Inc()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
// When ctx expires first, in-flight retries are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for evt := range d.queue {
		d.deliver(evt)
	}
}

func (d *Dispatcher) deliver(evt Event) {
	defer func() {
		if r := recover(); r != nil {
			dispatchedCounter.WithLabelValues(string(evt.Type), "failed").Inc()
			d.reporter.CaptureException(fmt.Errorf("publish %s for user %d panicked: %v", evt.Type, evt.UserID, r))
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff

	_, err := backoff.Retry(d.ctx, func() (struct{}, error) {
		attemptsCounter.WithLabelValues(string(evt.Type)).Inc()
		ctx, cancel := context.WithTimeout(d.ctx, d.cfg.PublishTimeout)
		defer cancel()
		return struct{}{}, d.publisher.Publish(ctx, evt)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(d.cfg.MaxRetries+1))

	if err != nil {
		dispatchedCounter.WithLabelValues(string(evt.Type), "failed").Inc()
		d.logger.Error("User event delivery failed", "id", evt.ID, "type", evt.Type, "user_id", evt.UserID, "error", err.Error())
		d.reporter.CaptureException(fmt.Errorf("deliver %s for user %d: %w", evt.Type, evt.UserID, err))
		return
	}
	dispatchedCounter.WithLabelValues(string(evt.Type), "published").Inc()
}
