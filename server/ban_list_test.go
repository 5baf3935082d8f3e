package server

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBanList_BanAndUnban(t *testing.T) {
	ctx := context.Background()
	storage := newMemoryStorage()
	bans, err := NewBanList(ctx, testLogger(), storage)
	require.NoError(t, err)

	assert.False(t, bans.IsBanned("u1"))

	require.NoError(t, bans.Ban(ctx, "u1"))
	assert.True(t, bans.IsBanned("u1"))
	assert.Equal(t, []string{"u1"}, storage.bans)

	// Banning twice is a conflict and does not write again.
	err = bans.Ban(ctx, "u1")
	assert.ErrorIs(t, err, ErrAlreadyBanned)
	assert.Equal(t, ErrorKindConflict, ErrorKindOf(err))
	assert.Equal(t, 1, storage.banSaves)
	assert.Equal(t, []string{"u1"}, bans.List())

	require.NoError(t, bans.Unban(ctx, "u1"))
	assert.False(t, bans.IsBanned("u1"))
	assert.Empty(t, storage.bans)

	err = bans.Unban(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotBanned)
	assert.Equal(t, 2, storage.banSaves)
}

func TestBanList_UnbanUnknownLeavesSetUnchanged(t *testing.T) {
	ctx := context.Background()
	storage := newMemoryStorage()
	storage.bans = []string{"a", "b"}
	bans, err := NewBanList(ctx, testLogger(), storage)
	require.NoError(t, err)

	assert.ErrorIs(t, bans.Unban(ctx, "c"), ErrNotBanned)
	assert.Equal(t, []string{"a", "b"}, bans.List())
	assert.Equal(t, 0, storage.banSaves)
}

func TestBanList_PersistFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	storage := newMemoryStorage()
	bans, err := NewBanList(ctx, testLogger(), storage)
	require.NoError(t, err)

	storage.setFailSaves(true)
	err = bans.Ban(ctx, "u1")
	require.Error(t, err)
	assert.Equal(t, ErrorKindExternalIO, ErrorKindOf(err))
	assert.ErrorIs(t, err, errStorageDown)
	assert.True(t, bans.IsBanned("u1"))

	// The next successful write carries the earlier change.
	storage.setFailSaves(false)
	require.NoError(t, bans.Ban(ctx, "u2"))
	assert.Equal(t, []string{"u1", "u2"}, storage.bans)
}

func TestBanList_ReloadReconstructsSet(t *testing.T) {
	ctx := context.Background()
	storage := newMemoryStorage()
	bans, err := NewBanList(ctx, testLogger(), storage)
	require.NoError(t, err)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, bans.Ban(ctx, id))
	}
	require.NoError(t, bans.Unban(ctx, "b"))

	reloaded, err := NewBanList(ctx, testLogger(), storage)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, reloaded.List())
}

func TestBanList_ConcurrentBans(t *testing.T) {
	ctx := context.Background()
	storage := newMemoryStorage()
	bans, err := NewBanList(ctx, testLogger(), storage)
	require.NoError(t, err)

	ids := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			assert.NoError(t, bans.Ban(ctx, id))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, ids, bans.List())
	// The newest snapshot is the one on disk.
	assert.Equal(t, ids, storage.bans)
}
