package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateGetDelete(t *testing.T) {
	st := NewStore(30*time.Minute, 10, time.Minute)

	s := st.Create("key-1", "prompt")
	require.NotEmpty(t, s.ID)
	assert.Equal(t, "key-1", s.Owner)

	got, err := st.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, st.Delete(s.ID))
	_, err = st.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.Delete(s.ID), ErrNotFound)
}

func TestStore_CapEvictsOldest(t *testing.T) {
	st := NewStore(30*time.Minute, 2, time.Minute)

	first := st.Create("", "p")
	time.Sleep(5 * time.Millisecond)
	second := st.Create("", "p")
	time.Sleep(5 * time.Millisecond)
	third := st.Create("", "p")

	_, err := st.Get(first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = st.Get(second.ID)
	assert.NoError(t, err)
	_, err = st.Get(third.ID)
	assert.NoError(t, err)

	stats := st.Stats()
	assert.Equal(t, 2, stats.Active)
	assert.Equal(t, int64(1), stats.Evicted)
}

func TestStore_SweeperEvictsIdleSessions(t *testing.T) {
	st := NewStore(20*time.Millisecond, 10, 10*time.Millisecond)
	st.Start(context.Background())
	defer st.Stop()

	s := st.Create("", "p")
	require.Eventually(t, func() bool {
		_, err := st.Get(s.ID)
		return err != nil
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), st.Stats().Evicted)
}

func TestStore_SweeperSkipsLockedSession(t *testing.T) {
	st := NewStore(10*time.Millisecond, 10, 5*time.Millisecond)

	s := st.Create("", "p")
	s.Lock()
	time.Sleep(30 * time.Millisecond)
	st.sweep()

	// Advance in flight: the session survives the sweep.
	_, err := st.Get(s.ID)
	assert.NoError(t, err)

	s.Touch()
	s.Unlock()
}

func TestStore_StatsCounters(t *testing.T) {
	st := NewStore(30*time.Minute, 10, time.Minute)
	a := st.Create("", "p")
	st.Create("", "p")
	require.NoError(t, st.Delete(a.ID))

	stats := st.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Equal(t, int64(2), stats.Created)
	assert.Equal(t, int64(1), stats.Deleted)
}
