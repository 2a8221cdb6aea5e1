package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	_, ok, err := s.Load(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, Session{UserID: 1, State: StateAwaitingAddress, UpdatedAt: now}))
	require.NoError(t, s.Save(ctx, Session{UserID: 2, State: StateAwaitingComment, UpdatedAt: now.Add(time.Hour)}))

	got, ok, err := s.Load(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateAwaitingAddress, got.State)

	n, err := s.Sweep(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, 2))
	assert.Equal(t, 0, s.Len())
}

func TestKeyedMutexReleasesKeys(t *testing.T) {
	k := newKeyedMutex()
	unlock := k.Lock(7)
	assert.Equal(t, 1, k.size())

	acquired := make(chan struct{})
	go func() {
		u := k.Lock(7)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	<-acquired

	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}
