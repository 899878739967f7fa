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

package oauth2

import "context"

// Consent resolves the resource owner for an /authorize request. The core
// has no consent UI of its own — the HTTP transport decides how a subject
// is established (session cookie, bearer credential, whatever) and hands
// the engine a collaborator that either returns a user id or refuses.
type Consent interface {
	// Resolve returns the authenticated user id for this authorize
	// request, or ok=false if no subject could be established (the
	// transport should then render/redirect to a login or consent step
	// before retrying, or the engine treats it as access_denied).
	Resolve(ctx context.Context, clientID, scope string) (userID string, ok bool)
}

// StubConsent auto-approves every request as a single fixed subject. This
// is the reference implementation's documented behavior for running the
// core without a real consent UI wired in (tests and local development).
type StubConsent struct {
	UserID string
}

// NewStubConsent returns a StubConsent resolving to "user_123", matching
// the reference implementation's documented stub subject.
func NewStubConsent() *StubConsent {
	return &StubConsent{UserID: "user_123"}
}

func (s *StubConsent) Resolve(ctx context.Context, clientID, scope string) (string, bool) {
	return s.UserID, true
}
