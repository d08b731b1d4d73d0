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
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tomoncle/oneauth/telemetry"
)

func fastConfig() Config {
	return Config{
		Workers:        1,
		QueueSize:      8,
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		PublishTimeout: time.Second,
	}
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Publish(_ context.Context, evt Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return nil
}

func (c *collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestDispatcherDelivers(t *testing.T) {
	pub := &collector{}
	d := NewDispatcher(pub, nil, nil, fastConfig())

	require.NoError(t, d.UserCreated(1))
	require.NoError(t, d.UserUpdated(2))
	require.NoError(t, d.Close(context.Background()))

	got := pub.Events()
	require.Len(t, got, 2)
	require.Equal(t, UserCreated, got[0].Type)
	require.Equal(t, int64(1), got[0].UserID)
	require.Equal(t, UserUpdated, got[1].Type)
	require.NotEqual(t, got[0].ID, got[1].ID)
}

func TestDispatcherRetries(t *testing.T) {
	var calls atomic.Int32
	pub := PublisherFunc(func(context.Context, Event) error {
		if calls.Add(1) < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	})
	reporter := &telemetry.Recorder{}
	d := NewDispatcher(pub, reporter, nil, fastConfig())

	require.NoError(t, d.UserCreated(7))
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, int32(3), calls.Load())
	require.Empty(t, reporter.Errors())
}

func TestDispatcherReportsFinalFailure(t *testing.T) {
	var calls atomic.Int32
	pub := PublisherFunc(func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("broker unavailable")
	})
	reporter := &telemetry.Recorder{}
	d := NewDispatcher(pub, reporter, nil, fastConfig())

	require.NoError(t, d.UserUpdated(7))
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, int32(3), calls.Load())
	require.Len(t, reporter.Errors(), 1)
	require.Contains(t, reporter.Errors()[0].Error(), "user 7")
}

func TestDispatcherRecoversPublisherPanic(t *testing.T) {
	reporter := &telemetry.Recorder{}
	d := NewDispatcher(PublisherFunc(func(context.Context, Event) error {
		panic("boom")
	}), reporter, nil, fastConfig())

	require.NoError(t, d.UserCreated(1))
	require.NoError(t, d.Close(context.Background()))
	require.Len(t, reporter.Errors(), 1)
}

func TestDispatcherQueueFull(t *testing.T) {
	release := make(chan struct{})
	pub := PublisherFunc(func(ctx context.Context, _ Event) error {
		<-release
		return nil
	})
	cfg := fastConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(pub, nil, nil, cfg)

	var full bool
	for i := 0; i < 10; i++ {
		if err := d.UserCreated(int64(i)); err != nil {
			require.ErrorIs(t, err, ErrQueueFull)
			full = true
			break
		}
	}
	require.True(t, full)
	close(release)
	require.NoError(t, d.Close(context.Background()))
}

func TestDispatcherClosed(t *testing.T) {
	d := NewDispatcher(&collector{}, nil, nil, fastConfig())
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))
	require.ErrorIs(t, d.UserCreated(1), ErrDispatcherClosed)
}

func TestDispatcherCloseTimeout(t *testing.T) {
	pub := PublisherFunc(func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cfg := fastConfig()
	cfg.PublishTimeout = time.Minute
	d := NewDispatcher(pub, nil, nil, cfg)
	require.NoError(t, d.UserCreated(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestEventJSON(t *testing.T) {
	evt := NewEvent(UserCreated, 42)
	raw, err := json.Marshal(evt)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "user.created", decoded["type"])
	require.EqualValues(t, 42, decoded["user_id"])
	require.NotEmpty(t, decoded["id"])
}
