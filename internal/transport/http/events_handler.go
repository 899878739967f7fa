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

package http

import (
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/vaultgate/vaultgate/internal/eventbus"
)

// ingestRequest is the external producer's wire shape for an envelope
// submitted to /events/ingest. Traceparent/Tracestate are read off the
// incoming request's span context when absent from the body, matching the
// teacher's OTel-first request handling.
type ingestRequest struct {
	Event          string            `json:"event"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Producer       string            `json:"producer"`
	Attributes     map[string]string `json:"attributes,omitempty"`
}

// EventsIngest accepts an envelope from an external producer. Deduplication
// happens before publication, keyed by the effective idempotency key: the
// `Idempotency-Key` header wins over the body's `idempotency_key`, which
// wins over the envelope's generated id.
func (h *Handler) EventsIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Event == "" {
		respondError(w, http.StatusBadRequest, "event is required")
		return
	}

	env := eventbus.NewEnvelope(firstNonEmpty(req.Producer, "external"), req.Event)
	env.IdempotencyKey = req.IdempotencyKey
	env.Attributes = req.Attributes
	if req.CorrelationID != "" {
		env.CorrelationID = req.CorrelationID
	}

	if span := trace.SpanContextFromContext(r.Context()); span.IsValid() {
		env.Traceparent = "00-" + span.TraceID().String() + "-" + span.SpanID().String() + "-01"
		env.Tracestate = span.TraceState().String()
	}

	if headerKey := r.Header.Get("Idempotency-Key"); headerKey != "" {
		env.IdempotencyKey = headerKey
	}

	if h.dedup.SeenBefore(env.EffectiveIdempotencyKey()) {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
		return
	}

	h.bus.PublishBestEffort(r.Context(), env)
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// EventsHealth reports the Event Fabric's plugin health (if any is
// configured) plus the tail of the mandatory in-memory ring buffer.
func (h *Handler) EventsHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if err := h.bus.Healthcheck(r.Context()); err != nil {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status": status,
		"recent": h.bus.Tail(),
	})
}
