package testsuite

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/sessionguard/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunLoginEventStore exercises the LoginEventStore contract against store.
// The store must be empty for the fingerprints this suite generates.
func RunLoginEventStore(t *testing.T, store storage.LoginEventStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("rejects invalid events", func(t *testing.T) {
		err := store.PutLoginEvent(ctx, storage.LoginEvent{ID: uuid.NewString(), Event: storage.LoginEventLogin})
		assert.ErrorIs(t, err, storage.ErrInvalidLoginEvent)

		err = store.PutLoginEvent(ctx, storage.LoginEvent{ID: uuid.NewString(), Fingerprint: "fp", Event: "bogus"})
		assert.ErrorIs(t, err, storage.ErrInvalidLoginEvent)
	})

	t.Run("lists events in occurrence order", func(t *testing.T) {
		fingerprint := uuid.NewString()
		base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

		second := storage.LoginEvent{
			ID:          uuid.NewString(),
			Fingerprint: fingerprint,
			UserName:    "u",
			URL:         "https://h/",
			Event:       storage.LoginEventRelogin,
			UserID:      "005xx",
			OccurredAt:  base.Add(time.Minute),
		}
		first := storage.LoginEvent{
			ID:          uuid.NewString(),
			Fingerprint: fingerprint,
			UserName:    "u",
			URL:         "https://h/",
			Event:       storage.LoginEventLogin,
			UserID:      "005xx",
			Sandbox:     true,
			OccurredAt:  base,
		}

		require.NoError(t, store.PutLoginEvent(ctx, second))
		require.NoError(t, store.PutLoginEvent(ctx, first))
		require.NoError(t, store.PutLoginEvent(ctx, storage.LoginEvent{
			ID:          uuid.NewString(),
			Fingerprint: uuid.NewString(),
			Event:       storage.LoginEventLogout,
			OccurredAt:  base,
		}))

		events, err := store.ListLoginEventsByFingerprint(ctx, fingerprint)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, first.ID, events[0].ID)
		assert.Equal(t, storage.LoginEventLogin, events[0].Event)
		assert.True(t, events[0].Sandbox)
		assert.True(t, first.OccurredAt.Equal(events[0].OccurredAt))
		assert.Equal(t, second.ID, events[1].ID)
		assert.Equal(t, "005xx", events[1].UserID)
	})

	t.Run("unknown fingerprint yields empty list", func(t *testing.T) {
		events, err := store.ListLoginEventsByFingerprint(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}
