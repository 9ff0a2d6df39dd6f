package pack_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GalSened/RoamWise-sub002/internal/pack"
)

func TestMemoryStorage_SetGet(t *testing.T) {
	store := pack.NewMemoryStorage(0)
	ctx := context.Background()
	pkg := validPackage(t)

	require.NoError(t, store.Set(ctx, pkg))

	got, err := store.Get(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, pkg.ID, got.ID)
	assert.Equal(t, pkg.Version, got.Version)
	assert.NotSame(t, pkg, got)

	// Mutating the returned copy must not leak into the store.
	got.Version = "mangled"
	again, err := store.Get(ctx, pkg.ID)
	require.NoError(t, err)
	assert.Equal(t, pkg.Version, again.Version)
}

func TestMemoryStorage_GetMissing(t *testing.T) {
	store := pack.NewMemoryStorage(0)

	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, pack.ErrPackageNotFound)
}

func TestMemoryStorage_HasDelete(t *testing.T) {
	store := pack.NewMemoryStorage(0)
	ctx := context.Background()
	pkg := validPackage(t)

	require.NoError(t, store.Set(ctx, pkg))

	has, err := store.Has(ctx, pkg.ID)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, store.Delete(ctx, pkg.ID))

	has, err = store.Has(ctx, pkg.ID)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Get(ctx, pkg.ID)
	assert.ErrorIs(t, err, pack.ErrPackageNotFound)

	assert.NoError(t, store.Delete(ctx, pkg.ID), "deleting a missing package is not an error")
}

func TestMemoryStorage_UsedAndQuota(t *testing.T) {
	store := pack.NewMemoryStorage(10_000)
	ctx := context.Background()

	first := validPackage(t)
	first.SizeBytes = 2048

	second := validPackage(t)
	second.ID = "other-trail"
	second.SizeBytes = 3000

	require.NoError(t, store.Set(ctx, first))
	require.NoError(t, store.Set(ctx, second))

	used, err := store.StorageUsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5048), used)

	quota, err := store.StorageQuota(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), quota)
}

func TestMemoryStorage_QuotaExceeded(t *testing.T) {
	store := pack.NewMemoryStorage(4000)
	ctx := context.Background()

	first := validPackage(t)
	first.SizeBytes = 2048
	require.NoError(t, store.Set(ctx, first))

	second := validPackage(t)
	second.ID = "other-trail"
	second.SizeBytes = 3000
	assert.ErrorIs(t, store.Set(ctx, second), pack.ErrQuotaExceeded)

	// Replacing an existing package does not count it twice.
	replacement := validPackage(t)
	replacement.SizeBytes = 3500
	require.NoError(t, store.Set(ctx, replacement))

	used, err := store.StorageUsed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3500), used)
}

func TestMemoryStorage_DefaultQuota(t *testing.T) {
	store := pack.NewMemoryStorage(0)

	quota, err := store.StorageQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pack.DefaultQuotaBytes, quota)
}

func TestMemoryStorage_SetWithoutID(t *testing.T) {
	store := pack.NewMemoryStorage(0)

	err := store.Set(context.Background(), &pack.TrailPackage{})
	assert.ErrorIs(t, err, pack.ErrPackageInvalid)
}
