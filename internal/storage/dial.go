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

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/vaultgate/vaultgate/internal/storage/mongo"
	"github.com/vaultgate/vaultgate/internal/storage/postgres"
	"github.com/vaultgate/vaultgate/internal/storage/sqlite"
)

// Dial inspects the URL scheme and returns the matching backend, already
// initialized (schema migrated / indexes created). Unknown schemes are a
// startup error, never a silent fallback.
func Dial(ctx context.Context, url string) (Port, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		db, err := postgres.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("storage: dial postgres: %w", err)
		}
		return db, nil
	case strings.HasPrefix(url, "sqlite://"):
		db, err := sqlite.New(ctx, strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("storage: dial sqlite: %w", err)
		}
		return db, nil
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		db, err := mongo.New(ctx, url)
		if err != nil {
			return nil, fmt.Errorf("storage: dial mongo: %w", err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("storage: unsupported database url scheme: %q", url)
	}
}
