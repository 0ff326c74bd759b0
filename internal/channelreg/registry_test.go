package channelreg

import (
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reelforge/orchestrator/internal/vault"
	"github.com/reelforge/orchestrator/pkg/model"
)

type fakeStore struct {
	upserted    map[string]model.Channel
	deactivated map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserted: map[string]model.Channel{}, deactivated: map[string]bool{}}
}

func (f *fakeStore) UpsertChannel(ctx context.Context, c model.Channel) (model.Channel, error) {
	f.upserted[c.ChannelID] = c
	return c, nil
}

func (f *fakeStore) DeactivateChannel(ctx context.Context, channelID string) error {
	f.deactivated[channelID] = true
	return nil
}

func (f *fakeStore) ListChannels(ctx context.Context) ([]model.Channel, error) {
	out := make([]model.Channel, 0, len(f.upserted))
	for _, c := range f.upserted {
		out = append(out, c)
	}
	return out, nil
}

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(base64.StdEncoding.EncodeToString([]byte("01234567890123456789012345678901")))
	require.NoError(t, err)
	return v
}

func writeChannelFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestScan_LoadsValidChannelsAndSkipsInvalidOnes(t *testing.T) {
	dir := t.TempDir()
	writeChannelFile(t, dir, "alpha.yaml", `
channel_id: alpha
channel_name: Alpha Channel
planning_db_database_id: DB-1
max_concurrent: 1
priority_weight: 2
`)
	writeChannelFile(t, dir, "broken.yaml", `
channel_name: Missing Required Fields
`)

	store := newFakeStore()
	log := zap.NewNop().Sugar()
	reg := New(dir, store, testVault(t), nil, log)

	require.NoError(t, reg.Scan(context.Background()))

	alpha, ok := reg.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "Alpha Channel", alpha.ChannelName)
	assert.Equal(t, 1, alpha.MaxConcurrent)
	assert.Equal(t, 2, alpha.PriorityWeight)
	assert.True(t, alpha.Active)

	assert.Len(t, reg.Active(), 1, "the broken file must not block the valid one")
}

func TestScan_RemovedFileDeactivatesChannel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beta.yaml")
	writeChannelFile(t, dir, "beta.yaml", `
channel_id: beta
channel_name: Beta
planning_db_database_id: DB-2
`)

	store := newFakeStore()
	reg := New(dir, store, testVault(t), nil, zap.NewNop().Sugar())
	require.NoError(t, reg.Scan(context.Background()))
	_, ok := reg.Get("beta")
	require.True(t, ok)

	require.NoError(t, os.Remove(path))
	require.NoError(t, reg.Scan(context.Background()))

	_, ok = reg.Get("beta")
	assert.False(t, ok, "removed channel should no longer be in the active in-memory map")
	assert.True(t, store.deactivated["beta"], "removed channel rows are retained but marked inactive")
}

func TestAcquireSlot_RespectsMaxConcurrent(t *testing.T) {
	dir := t.TempDir()
	writeChannelFile(t, dir, "gamma.yaml", `
channel_id: gamma
channel_name: Gamma
planning_db_database_id: DB-3
max_concurrent: 2
`)
	store := newFakeStore()
	reg := New(dir, store, testVault(t), nil, zap.NewNop().Sugar())
	ctx := context.Background()
	require.NoError(t, reg.Scan(ctx))

	ok1, err := reg.AcquireSlot(ctx, "gamma")
	require.NoError(t, err)
	ok2, err := reg.AcquireSlot(ctx, "gamma")
	require.NoError(t, err)
	ok3, err := reg.AcquireSlot(ctx, "gamma")
	require.NoError(t, err)

	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3, "third claim should be rejected at max_concurrent=2")

	reg.ReleaseSlot(ctx, "gamma")
	ok4, err := reg.AcquireSlot(ctx, "gamma")
	require.NoError(t, err)
	assert.True(t, ok4, "releasing a slot should make room again")
}

func TestEncryptCredentials_StoresOpaqueBlob(t *testing.T) {
	dir := t.TempDir()
	writeChannelFile(t, dir, "delta.yaml", `
channel_id: delta
channel_name: Delta
planning_db_database_id: DB-4
planning_db_token: plaintext-secret-token
`)
	store := newFakeStore()
	reg := New(dir, store, testVault(t), nil, zap.NewNop().Sugar())
	require.NoError(t, reg.Scan(context.Background()))

	persisted := store.upserted["delta"]
	assert.NotEmpty(t, persisted.EncPlanningDBToken)
	assert.NotContains(t, string(persisted.EncPlanningDBToken), "plaintext-secret-token")
}
