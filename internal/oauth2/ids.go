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

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomAlphanumeric returns a cryptographically random alphanumeric string
// of length n, used for authorization codes and client secrets.
func randomAlphanumeric(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failing means the platform's entropy source is broken
	}
	out := make([]byte, n)
	for i, v := range b {
		out[i] = alphanumeric[int(v)%len(alphanumeric)]
	}
	return string(out)
}

// generateClientID returns a fresh client_<uuid> identifier.
func generateClientID() string {
	return "client_" + uuid.NewString()
}

// generateClientSecret returns a 32-char alphanumeric client secret.
func generateClientSecret() string {
	return randomAlphanumeric(32)
}

// generateAuthorizationCode returns a 32-char alphanumeric authorization code.
func generateAuthorizationCode() string {
	return randomAlphanumeric(32)
}
