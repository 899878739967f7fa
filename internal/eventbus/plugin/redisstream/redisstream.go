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

// Package redisstream publishes event envelopes to a Redis Stream via
// XADD, one stream per process (keyed by the configured stream name). It
// is the lowest-latency of the three optional Event Fabric backends.
package redisstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vaultgate/vaultgate/internal/eventbus"
)

// MaxLen bounds the stream with approximate trimming (the "~" form of
// MAXLEN) so a stalled consumer can't grow the stream unbounded.
const MaxLen = 100_000

type Plugin struct {
	client *redis.Client
	stream string
}

func New(client *redis.Client, stream string) *Plugin {
	if stream == "" {
		stream = "vaultgate:events"
	}
	return &Plugin{client: client, stream: stream}
}

func (p *Plugin) Name() string { return "redisstream" }

func (p *Plugin) Publish(ctx context.Context, env eventbus.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redisstream: marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"idempotency_key": env.EffectiveIdempotencyKey(),
			"event":           env.Event,
			"payload":         payload,
		},
	}
	return p.client.XAdd(ctx, args).Err()
}

func (p *Plugin) Healthcheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
