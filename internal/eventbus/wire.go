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
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/eventbus/plugin/amqpbroker"
	"github.com/vaultgate/vaultgate/internal/eventbus/plugin/partitionlog"
	"github.com/vaultgate/vaultgate/internal/eventbus/plugin/redisstream"
)

// Closer is implemented by plugins that hold a persistent connection and
// need to release it on shutdown.
type Closer interface {
	Close() error
}

// NewFromConfig builds the mandatory ring buffer plus whichever optional
// plugin cfg.Backend names, wiring them into a Bus. The returned Closer
// is nil for the "none" backend and for the ring-only part of any other
// backend (the ring never needs closing).
func NewFromConfig(cfg config.EventsConfig) (*Bus, Closer, error) {
	ring := NewRing(cfg.RingCapacity)

	filter := AllowAll
	if cfg.FilterMode == "allow_list" {
		filter = AllowList(cfg.EventTypes)
	}

	if !cfg.Enabled || cfg.Backend == "none" {
		return New(ring, nil, filter), nil, nil
	}

	var plugin Plugin
	var closer Closer

	switch cfg.Backend {
	case "redisstream":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("eventbus: parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		p := redisstream.New(client, cfg.RedisStream)
		plugin, closer = p, client
	case "partitionlog":
		p := partitionlog.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		plugin, closer = p, p
	case "amqpbroker":
		p := amqpbroker.New(cfg.AMQPURL)
		plugin, closer = p, p
	default:
		return nil, nil, fmt.Errorf("eventbus: unknown backend %q", cfg.Backend)
	}

	return New(ring, plugin, filter), closer, nil
}
