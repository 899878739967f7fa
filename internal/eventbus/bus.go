// Copyright 2026 The VaultGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventbus

import (
	"context"
	"log/slog"
	"time"
)

// publishTimeout bounds how long a detached publish attempt may run before
// it's abandoned; the OAuth hot path never waits on this.
const publishTimeout = 2 * time.Second

// Plugin is one Event Fabric backend. Publish should do real I/O; Bus is
// responsible for keeping that I/O off the caller's goroutine.
type Plugin interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
	Healthcheck(ctx context.Context) error
}

// Bus fans a published envelope out to the mandatory ring buffer plus an
// optional configured plugin, never letting either block or fail the
// caller.
type Bus struct {
	ring   *Ring
	plugin Plugin // nil when no external backend is configured
	filter Filter
}

// Filter decides whether an event name should be forwarded to the external
// plugin. The ring buffer always receives every event regardless of filter.
type Filter func(event string) bool

// AllowAll forwards every event.
func AllowAll(string) bool { return true }

// AllowList forwards only the named events.
func AllowList(events []string) Filter {
	set := make(map[string]bool, len(events))
	for _, e := range events {
		set[e] = true
	}
	return func(event string) bool { return set[event] }
}

func New(ring *Ring, plugin Plugin, filter Filter) *Bus {
	if filter == nil {
		filter = AllowAll
	}
	return &Bus{ring: ring, plugin: plugin, filter: filter}
}

// PublishBestEffort enqueues delivery on a background goroutine and
// returns immediately. Failures are logged, never returned or retried —
// the core OAuth path must be insensitive to event-backend health.
func (b *Bus) PublishBestEffort(ctx context.Context, env Envelope) {
	b.ring.Append(env)

	if b.plugin == nil || !b.filter(env.Event) {
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		pubCtx, cancel := context.WithTimeout(detached, publishTimeout)
		defer cancel()
		if err := b.plugin.Publish(pubCtx, env); err != nil {
			slog.WarnContext(ctx, "eventbus: best-effort publish failed",
				"plugin", b.plugin.Name(), "event", env.Event, "id", env.ID, "error", err)
		}
	}()
}

// Tail returns the most recent envelopes held in the ring buffer, newest
// last, for /events/health.
func (b *Bus) Tail() []Envelope {
	return b.ring.Tail()
}

// Healthcheck reports the configured plugin's health, or true if none is
// configured (the ring buffer is always healthy by construction).
func (b *Bus) Healthcheck(ctx context.Context) error {
	if b.plugin == nil {
		return nil
	}
	return b.plugin.Healthcheck(ctx)
}
