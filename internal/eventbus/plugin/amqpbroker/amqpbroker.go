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

// Package amqpbroker publishes event envelopes to a durable AMQP topic
// exchange, routed by event name so downstream consumers can bind queues
// to the subset of events they care about.
package amqpbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/vaultgate/vaultgate/internal/eventbus"
)

const exchangeName = "vaultgate.events"

type Plugin struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func New(url string) *Plugin {
	return &Plugin{url: url}
}

// connect lazily dials and declares the topic exchange, reconnecting if a
// previous channel or connection was closed.
func (p *Plugin) connect() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}

	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, fmt.Errorf("amqpbroker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqpbroker: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqpbroker: declare exchange: %w", err)
	}

	p.conn = conn
	p.ch = ch
	return ch, nil
}

func (p *Plugin) Name() string { return "amqpbroker" }

func (p *Plugin) Publish(ctx context.Context, env eventbus.Envelope) error {
	ch, err := p.connect()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("amqpbroker: marshal envelope: %w", err)
	}

	return ch.Publish(exchangeName, env.Event, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Body:          payload,
	})
}

func (p *Plugin) Healthcheck(ctx context.Context) error {
	_, err := p.connect()
	return err
}

func (p *Plugin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
