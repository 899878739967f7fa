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

// Package partitionlog publishes event envelopes to a Kafka topic, keyed
// by the envelope's effective idempotency key so that every event for the
// same logical operation lands on the same partition and keeps its
// ordering.
package partitionlog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/vaultgate/vaultgate/internal/eventbus"
)

type Plugin struct {
	writer *kafka.Writer
}

// New builds a plugin that writes to topic across the given brokers. The
// writer balances by key (RequireOne ack) so partitioning follows the
// idempotency key rather than round-robin.
func New(brokers []string, topic string) *Plugin {
	return &Plugin{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *Plugin) Name() string { return "partitionlog" }

func (p *Plugin) Publish(ctx context.Context, env eventbus.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("partitionlog: marshal envelope: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(env.EffectiveIdempotencyKey()),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(env.Event)},
		},
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *Plugin) Healthcheck(ctx context.Context) error {
	conn, err := kafka.DialContext(ctx, "tcp", p.writer.Addr.String())
	if err != nil {
		return fmt.Errorf("partitionlog: dial: %w", err)
	}
	return conn.Close()
}

func (p *Plugin) Close() error {
	return p.writer.Close()
}
