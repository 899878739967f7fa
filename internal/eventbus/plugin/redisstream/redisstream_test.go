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

package redisstream

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vaultgate/vaultgate/internal/eventbus"
)

func newTestPlugin(t *testing.T) (*Plugin, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, "test:events"), client
}

func TestPublishAddsToStream(t *testing.T) {
	plugin, client := newTestPlugin(t)
	ctx := context.Background()

	env := eventbus.NewEnvelope("vaultgate", "token.created")
	require.NoError(t, plugin.Publish(ctx, env))

	length, err := client.XLen(ctx, "test:events").Result()
	require.NoError(t, err)
	require.EqualValues(t, 1, length)
}

func TestHealthcheck(t *testing.T) {
	plugin, _ := newTestPlugin(t)
	require.NoError(t, plugin.Healthcheck(context.Background()))
}

func TestHealthcheckFailsAfterClose(t *testing.T) {
	plugin, client := newTestPlugin(t)
	require.NoError(t, client.Close())
	require.Error(t, plugin.Healthcheck(context.Background()))
}
