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

package logger

import (
	"context"
	"log/slog"
)

// AuditEvent represents a security or compliance-relevant event
type AuditEvent struct {
	EventType string
	UserID    string
	ClientID  string
	IPAddress string
	Action    string
	Result    string // success, failure, denied
	Reason    string
	Metadata  map[string]any
}

// AuditLogger provides methods for logging security and audit events
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger.With(Component("audit")),
	}
}

// Log logs an audit event
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.String("action", event.Action),
		slog.String("result", event.Result),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.ClientID != "" {
		attrs = append(attrs, slog.String("client_id", event.ClientID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", event.Metadata))
	}

	a.logger.LogAttrs(ctx, slog.LevelInfo, "audit_event", attrs...)
}

// Authorization events
func (a *AuditLogger) AuthorizationGranted(ctx context.Context, userID, clientID, scope, ipAddr string) {
	a.Log(ctx, AuditEvent{
		EventType: "authorization",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddr,
		Action:    "authorize",
		Result:    "success",
		Metadata:  map[string]any{"scope": scope},
	})
}

func (a *AuditLogger) AuthorizationDenied(ctx context.Context, userID, clientID, reason, ipAddr string) {
	a.Log(ctx, AuditEvent{
		EventType: "authorization",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddr,
		Action:    "authorize",
		Result:    "denied",
		Reason:    reason,
	})
}

// Client registry events
func (a *AuditLogger) ClientRegistered(ctx context.Context, clientID, ipAddr string) {
	a.Log(ctx, AuditEvent{
		EventType: "client_registry",
		ClientID:  clientID,
		IPAddress: ipAddr,
		Action:    "register_client",
		Result:    "success",
	})
}

func (a *AuditLogger) ClientAuthenticationFailed(ctx context.Context, clientID, ipAddr string) {
	a.Log(ctx, AuditEvent{
		EventType: "client_registry",
		ClientID:  clientID,
		IPAddress: ipAddr,
		Action:    "authenticate_client",
		Result:    "failure",
	})
}

// Token events
func (a *AuditLogger) TokenIssued(ctx context.Context, clientID, userID, scope, ipAddr string) {
	a.Log(ctx, AuditEvent{
		EventType: "token",
		UserID:    userID,
		ClientID:  clientID,
		IPAddress: ipAddr,
		Action:    "issue_token",
		Result:    "success",
		Metadata:  map[string]any{"scope": scope},
	})
}

func (a *AuditLogger) TokenRevoked(ctx context.Context, clientID, ipAddr string) {
	a.Log(ctx, AuditEvent{
		EventType: "token",
		ClientID:  clientID,
		IPAddress: ipAddr,
		Action:    "revoke_token",
		Result:    "success",
	})
}
