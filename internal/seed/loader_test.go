package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/govflow/govflow/internal/auth"
	"github.com/govflow/govflow/internal/store"
	"github.com/govflow/govflow/internal/workflow"
	"github.com/govflow/govflow/model"
)

const shippedSeed = "../../seed"

type countingObserver map[string]float64

func (o countingObserver) SetSeedRecordsLoaded(kind string, count float64) { o[kind] = count }

func TestLoadDir_shippedSeed(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	obs := countingObserver{}
	loader := NewLoader(stores, bcrypt.MinCost, zap.NewNop(), WithObserver(obs))

	results, err := loader.LoadDir(ctx, shippedSeed)
	require.NoError(t, err)
	assert.Len(t, results, 9)
	for _, r := range results {
		assert.Len(t, r.Checksum, 64, r.Kind)
		assert.Zero(t, r.Skipped, r.Kind)
	}
	assert.Equal(t, float64(4), obs[store.KindUsers])

	admin, err := stores.Users.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "admin@gov.lk", admin.Email)
	assert.Equal(t, model.RoleAdmin, admin.Role)
	assert.Equal(t, 1, admin.Revision)
	assert.True(t, auth.CheckPassword(admin.PasswordHash, "admin123"))
	assert.False(t, admin.CreatedAt.IsZero())

	def, err := stores.Definitions.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "Biz Reg", def.Name)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, "stepA", def.Steps[0].ID)

	req, err := stores.Requests.Get(ctx, "1")
	require.NoError(t, err)
	assert.NoError(t, workflow.Verify(def, req))
}

func TestLoadDir_isIdempotent(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemoryStores()
	loader := NewLoader(stores, bcrypt.MinCost, zap.NewNop())

	_, err := loader.LoadDir(ctx, shippedSeed)
	require.NoError(t, err)
	results, err := loader.LoadDir(ctx, shippedSeed)
	require.NoError(t, err)
	for _, r := range results {
		assert.Zero(t, r.Loaded, r.Kind)
		assert.Positive(t, r.Skipped, r.Kind)
	}

	offices, err := stores.Offices.List(ctx)
	require.NoError(t, err)
	assert.Len(t, offices, 2)
}

func TestLoadDir_missingFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "offices.json"), []byte(`[{"id":"o1","name":"Galle DS"}]`), 0o600))

	results, err := NewLoader(store.NewMemoryStores(), bcrypt.MinCost, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, store.KindOffices, results[0].Kind)
	assert.Equal(t, 1, results[0].Loaded)
}

func TestLoadDir_inactiveSeedUser(t *testing.T) {
	dir := t.TempDir()
	body := `[{"id":"u1","name":"Old","email":"old@gov.lk","role":"OFFICER","isActive":false}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "users.json"), []byte(body), 0o600))
	stores := store.NewMemoryStores()

	_, err := NewLoader(stores, bcrypt.MinCost, zap.NewNop()).LoadDir(context.Background(), dir)
	require.NoError(t, err)
	u, err := stores.Users.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, u.Disabled)
	assert.Empty(t, u.PasswordHash)
}

func TestLoadDir_errors(t *testing.T) {
	for _, dir := range []string{"testdata/bad_role", "testdata/missing_id"} {
		t.Run(dir, func(t *testing.T) {
			_, err := NewLoader(store.NewMemoryStores(), bcrypt.MinCost, zap.NewNop()).LoadDir(context.Background(), dir)
			assert.Error(t, err)
		})
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(`{"not":"an array"}`), 0o600))
	_, err := NewLoader(store.NewMemoryStores(), bcrypt.MinCost, zap.NewNop()).LoadDir(context.Background(), dir)
	assert.Error(t, err)
}
