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

// Package eventbus is the event/idempotency fabric that couples the OAuth
// hot path to external observers without ever letting a slow or unhealthy
// observer affect it.
package eventbus

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope carries one domain event plus the bookkeeping needed for
// idempotent, traceable delivery to an external observer.
type Envelope struct {
	ID             string            `json:"id"`
	Event          string            `json:"event"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Traceparent    string            `json:"traceparent,omitempty"`
	Tracestate     string            `json:"tracestate,omitempty"`
	CorrelationID  string            `json:"correlation_id"`
	Producer       string            `json:"producer"`
	ProducedAt     time.Time         `json:"produced_at"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// NewEnvelope stamps an id, correlation id, and produced_at, leaving the
// caller to fill in Event, IdempotencyKey, and Attributes.
func NewEnvelope(producer, event string) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Event:         event,
		CorrelationID: uuid.NewString(),
		Producer:      producer,
		ProducedAt:    time.Now().UTC(),
		Attributes:    map[string]string{},
	}
}

// EffectiveIdempotencyKey returns the explicit IdempotencyKey if it is
// non-empty after trimming, else the envelope's own id. This precedence is
// what both the ingestion endpoint's dedup cache and every publish-side
// plugin key their at-most-once behavior on.
func (e Envelope) EffectiveIdempotencyKey() string {
	if key := strings.TrimSpace(e.IdempotencyKey); key != "" {
		return key
	}
	return e.ID
}
