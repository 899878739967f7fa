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

// Command migrate dials the configured storage backend and runs its
// idempotent schema bootstrap (Init). Safe to run on every deploy.
package main

import (
	"context"
	"fmt"
	"os"

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

	fmt.Println("applying schema...")
	if err := db.Init(ctx); err != nil {
		fmt.Printf("migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migration successful.")
}
