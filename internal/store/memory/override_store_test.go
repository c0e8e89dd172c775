package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOverrideStore(t *testing.T) {
	st := NewOverrideStore()
	require.NotNil(t, st)
}

func TestMemoryOverrideStore_Upsert(t *testing.T) {
	t.Run("first upsert reports no previous value", func(t *testing.T) {
		st := NewOverrideStore()
		ctx := context.Background()
		orgID := uuid.Must(uuid.NewV7())

		prev, err := st.Upsert(ctx, orgID, "sso", true, uuid.NullUUID{})
		require.NoError(t, err)
		require.Nil(t, prev)

		overrides, err := st.Get(ctx, orgID)
		require.NoError(t, err)
		require.Equal(t, map[string]bool{"sso": true}, overrides)
	})

	t.Run("second upsert returns prior value and updates in place", func(t *testing.T) {
		st := NewOverrideStore()
		ctx := context.Background()
		orgID := uuid.Must(uuid.NewV7())
		actor := uuid.NullUUID{UUID: uuid.Must(uuid.NewV7()), Valid: true}

		_, err := st.Upsert(ctx, orgID, "sso", true, uuid.NullUUID{})
		require.NoError(t, err)

		prev, err := st.Upsert(ctx, orgID, "sso", false, actor)
		require.NoError(t, err)
		require.NotNil(t, prev)
		require.True(t, *prev)

		rows, err := st.List(ctx, orgID)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.False(t, rows[0].Value)
		require.Equal(t, actor, rows[0].UpdatedBy)
		require.False(t, rows[0].UpdatedAt.Before(rows[0].CreatedAt))
	})

	t.Run("false override is kept distinct from no override", func(t *testing.T) {
		st := NewOverrideStore()
		ctx := context.Background()
		orgID := uuid.Must(uuid.NewV7())

		_, err := st.Upsert(ctx, orgID, "sso", false, uuid.NullUUID{})
		require.NoError(t, err)

		overrides, err := st.Get(ctx, orgID)
		require.NoError(t, err)
		value, ok := overrides["sso"]
		require.True(t, ok)
		require.False(t, value)
		_, ok = overrides["calendar-sync"]
		require.False(t, ok)
	})

	t.Run("organizations are isolated", func(t *testing.T) {
		st := NewOverrideStore()
		ctx := context.Background()
		orgA := uuid.Must(uuid.NewV7())
		orgB := uuid.Must(uuid.NewV7())

		_, err := st.Upsert(ctx, orgA, "sso", true, uuid.NullUUID{})
		require.NoError(t, err)

		overrides, err := st.Get(ctx, orgB)
		require.NoError(t, err)
		require.Empty(t, overrides)
	})

	t.Run("canceled context writes nothing", func(t *testing.T) {
		st := NewOverrideStore()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		orgID := uuid.Must(uuid.NewV7())

		_, err := st.Upsert(ctx, orgID, "sso", true, uuid.NullUUID{})
		require.ErrorIs(t, err, context.Canceled)

		overrides, err := st.Get(context.Background(), orgID)
		require.NoError(t, err)
		require.Empty(t, overrides)
	})
}

func TestMemoryOverrideStore_ConcurrentUpsert(t *testing.T) {
	st := NewOverrideStore()
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	const writers = 50

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		firstSeen int
	)

	for i := range writers {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			prev, err := st.Upsert(ctx, orgID, "realtime-transcription", v, uuid.NullUUID{})
			assert.NoError(t, err)
			if prev == nil {
				mu.Lock()
				firstSeen++
				mu.Unlock()
			}
		}(i%2 == 0)
	}
	wg.Wait()

	require.Equal(t, 1, firstSeen, "exactly one writer may observe no previous override")

	rows, err := st.List(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestMemoryOverrideStore_List(t *testing.T) {
	st := NewOverrideStore()
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	for _, f := range []string{"sso", "ats-integration", "custom-branding"} {
		_, err := st.Upsert(ctx, orgID, f, true, uuid.NullUUID{})
		require.NoError(t, err)
	}

	rows, err := st.List(ctx, orgID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "ats-integration", rows[0].FeatureID)
	require.Equal(t, "custom-branding", rows[1].FeatureID)
	require.Equal(t, "sso", rows[2].FeatureID)

	// returned rows are copies
	rows[0].Value = false
	overrides, err := st.Get(ctx, orgID)
	require.NoError(t, err)
	require.True(t, overrides["ats-integration"])
}
