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

//go:build integration

package mongo

import (
	"context"
	"os"
	"testing"

	"github.com/vaultgate/vaultgate/internal/storage"
	"github.com/vaultgate/vaultgate/internal/storage/conformance"
)

func TestMongoConformance(t *testing.T) {
	uri := os.Getenv("VAULTGATE_TEST_MONGO_URL")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	conformance.RunTests(t, func(t *testing.T) storage.Port {
		db, err := New(context.Background(), uri)
		if err != nil {
			t.Skipf("skipping mongo conformance: failed to connect: %v", err)
		}
		t.Cleanup(func() {
			db.db.Drop(context.Background())
		})
		return db
	})
}
