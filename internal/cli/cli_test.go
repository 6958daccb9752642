package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdao/lm-indexer/internal/config"
	"github.com/mdao/lm-indexer/internal/domain/cursor"
	"github.com/mdao/lm-indexer/internal/storage"
)

type fakeBackend struct {
	applied     []string
	stats       storage.Stats
	checkpoints map[string]cursor.Checkpoint
	migrateErr  error
	closed      bool
	loaded      []cursor.Subscription
}

func (b *fakeBackend) Migrate(context.Context) ([]string, error) { return b.applied, b.migrateErr }

func (b *fakeBackend) Stats(context.Context) (storage.Stats, error) { return b.stats, nil }

func (b *fakeBackend) LoadCheckpoint(_ context.Context, sub cursor.Subscription) (*cursor.Checkpoint, error) {
	b.loaded = append(b.loaded, sub)
	cp, ok := b.checkpoints[sub.Key()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &cp, nil
}

func (b *fakeBackend) ListCheckpoints(context.Context) ([]cursor.Checkpoint, error) {
	out := make([]cursor.Checkpoint, 0, len(b.checkpoints))
	for _, cp := range b.checkpoints {
		out = append(out, cp)
	}
	return out, nil
}

func (b *fakeBackend) Close() { b.closed = true }

var defaultSub = cursor.Subscription{Name: "labor-markets-indexer", Namespace: "mdao-dev", Version: "0.0.1"}

func execute(t *testing.T, b *fakeBackend, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(func(ctx context.Context, cfg *config.Config) (Backend, error) {
		return b, nil
	})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, path := range [][]string{{"migrate"}, {"status"}, {"cursor", "show"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, &fakeBackend{}, "status", "--format", "yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestMigrate(t *testing.T) {
	b := &fakeBackend{applied: []string{"0001_init.sql"}}
	out, err := execute(t, b, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0001_init.sql")
	assert.True(t, b.closed)

	out, err = execute(t, &fakeBackend{}, "migrate", "--format", "json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"applied": []}`, out)

	_, err = execute(t, &fakeBackend{migrateErr: errors.New("syntax error")}, "migrate")
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestStatus(t *testing.T) {
	updated := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := &fakeBackend{
		stats: storage.Stats{LaborMarkets: 2, ServiceRequests: 5},
		checkpoints: map[string]cursor.Checkpoint{
			defaultSub.Key(): {Subscription: defaultSub, Position: 41, TxHash: "0x29", UpdatedAt: updated},
		},
	}

	out, err := execute(t, b, "status", "--format", "json")
	require.NoError(t, err)
	var res StatusResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, defaultSub.Key(), res.Subscription)
	assert.Equal(t, "41", res.Position)
	assert.Equal(t, int64(2), res.Rows.LaborMarkets)
	require.Len(t, res.Cursors, 1)

	out, err = execute(t, &fakeBackend{}, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Position:     beginning")
	assert.Contains(t, out, "No cursors saved.")
}

func TestCursorShow(t *testing.T) {
	other := cursor.Subscription{Name: "labor-markets-indexer", Namespace: "mdao-dev", Version: "0.0.2"}
	b := &fakeBackend{checkpoints: map[string]cursor.Checkpoint{
		other.Key(): {Subscription: other, Position: 3},
	}}

	_, err := execute(t, b, "cursor", "show")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, defaultSub, b.loaded[0])

	out, err := execute(t, b, "cursor", "show", "--version", "0.0.2")
	require.NoError(t, err)
	assert.Contains(t, out, other.Key())
	assert.Contains(t, out, "SUBSCRIPTION")
}
