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

package sqlite

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/storage"
	"github.com/vaultgate/vaultgate/internal/storage/conformance"
)

func TestSQLiteConformance(t *testing.T) {
	conformance.RunTests(t, func(t *testing.T) storage.Port {
		// A unique named in-memory database per subtest, since ":memory:"
		// alone is re-created per connection and this backend caps at one.
		db, err := New(context.Background(), "file:"+uuid.NewString()+"?mode=memory&cache=shared")
		require.NoError(t, err)
		return db
	})
}
