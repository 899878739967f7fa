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

// Command cleanup sweeps expired authorization codes and tokens from the
// configured storage backend. Intended to run on a schedule outside the
// HTTP hot path (cron, Kubernetes CronJob), not as a long-running process.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vaultgate/vaultgate/internal/config"
	"github.com/vaultgate/vaultgate/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := storage.Dial(ctx, cfg.Storage.URL)
	if err != nil {
		fmt.Printf("failed to dial storage: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	codes, tokens, err := db.DeleteExpired(ctx, time.Now().UTC())
	if err != nil {
		fmt.Printf("cleanup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("removed %d expired authorization codes and %d expired tokens\n", codes, tokens)
}
