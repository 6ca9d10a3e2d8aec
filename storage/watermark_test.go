package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbridge/models"
)

func TestWatermarkGetAbsent(t *testing.T) {
	store := NewWatermarkStore(testDB(t))

	wm, err := store.Get(context.Background(), "u1", "work", "INBOX")
	require.NoError(t, err)
	assert.Zero(t, wm.LastUID)
	assert.Zero(t, wm.TotalOnServer)
	assert.Equal(t, "work", wm.AccountCode)
}

func TestWatermarkAdvanceMonotonic(t *testing.T) {
	store := NewWatermarkStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.Advance(ctx, &models.SyncWatermark{
		UserID: "u1", AccountCode: "work", Mailbox: "INBOX",
		LastUID: 50, TotalOnServer: 120, LastSyncedAt: now,
	})
	require.NoError(t, err)

	wm, err := store.Get(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(50), wm.LastUID)
	assert.Equal(t, uint32(120), wm.TotalOnServer)

	// A stale sync reporting a lower UID must not regress the cursor, but
	// still refreshes the observed server count.
	err = store.Advance(ctx, &models.SyncWatermark{
		UserID: "u1", AccountCode: "work", Mailbox: "INBOX",
		LastUID: 30, TotalOnServer: 118, LastSyncedAt: now.Add(time.Minute),
	})
	require.NoError(t, err)

	wm, err = store.Get(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(50), wm.LastUID)
	assert.Equal(t, uint32(118), wm.TotalOnServer)

	// Forward movement still applies.
	err = store.Advance(ctx, &models.SyncWatermark{
		UserID: "u1", AccountCode: "work", Mailbox: "INBOX",
		LastUID: 75, TotalOnServer: 125, LastSyncedAt: now.Add(2 * time.Minute),
	})
	require.NoError(t, err)

	wm, err = store.Get(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(75), wm.LastUID)
}

func TestWatermarkPerMailbox(t *testing.T) {
	store := NewWatermarkStore(testDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Advance(ctx, &models.SyncWatermark{
		UserID: "u1", AccountCode: "work", Mailbox: "INBOX",
		LastUID: 10, LastSyncedAt: now,
	}))
	require.NoError(t, store.Advance(ctx, &models.SyncWatermark{
		UserID: "u1", AccountCode: "work", Mailbox: "Archive",
		LastUID: 99, LastSyncedAt: now,
	}))

	inbox, err := store.Get(ctx, "u1", "work", "INBOX")
	require.NoError(t, err)
	assert.Equal(t, uint32(10), inbox.LastUID)

	archive, err := store.Get(ctx, "u1", "work", "Archive")
	require.NoError(t, err)
	assert.Equal(t, uint32(99), archive.LastUID)
}
