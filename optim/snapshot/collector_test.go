package snapshot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stockflow/invopt/optim"
)

// scriptedSource returns queued responses in order, then repeats the last.
type scriptedSource struct {
	mu        sync.Mutex
	responses []scripted
	calls     int
}

type scripted struct {
	records []optim.SKURecord
	err     error
}

func (s *scriptedSource) Fetch(ctx context.Context) ([]optim.SKURecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.responses[len(s.responses)-1]
	if s.calls < len(s.responses) {
		r = s.responses[s.calls]
	}
	s.calls++
	return r.records, r.err
}

func (s *scriptedSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestCollector_StartCollectsSynchronously(t *testing.T) {
	store := NewStore()
	src := &scriptedSource{responses: []scripted{{records: []optim.SKURecord{{ID: "A"}}}}}
	c := NewCollector(store, src, time.Hour)

	require.NoError(t, c.Start(context.Background()))
	defer c.Stop()

	assert.Equal(t, uint64(1), store.Version())
	assert.ErrorIs(t, c.Start(context.Background()), ErrCollectorRunning)
}

func TestCollector_FailureKeepsLastSnapshot(t *testing.T) {
	// GIVEN a source that succeeds once and then fails
	store := NewStore()
	src := &scriptedSource{responses: []scripted{
		{records: []optim.SKURecord{{ID: "A", OnHand: 4}}},
		{err: errors.New("warehouse api down")},
	}}
	c := NewCollector(store, src, time.Hour)

	// WHEN collecting twice
	assert.True(t, c.Collect(context.Background()))
	assert.False(t, c.Collect(context.Background()))

	// THEN the first snapshot is still served
	assert.Equal(t, uint64(1), store.Version())
	a, ok := store.Current().Record("A")
	require.True(t, ok)
	assert.Equal(t, 4.0, a.OnHand)
	assert.Equal(t, int64(1), c.Failures())
}

func TestCollector_LoopRefreshesUntilStopped(t *testing.T) {
	store := NewStore()
	src := &scriptedSource{responses: []scripted{{records: []optim.SKURecord{{ID: "A"}}}}}
	c := NewCollector(store, src, 5*time.Millisecond)

	require.NoError(t, c.Start(context.Background()))
	assert.Eventually(t, func() bool { return store.Version() >= 3 }, time.Second, time.Millisecond)
	c.Stop()

	calls := src.Calls()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, calls, src.Calls(), "no fetches after Stop returns")
	c.Stop() // idempotent
}

func TestCollector_UsesClockForCaptureTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore()
	src := &scriptedSource{responses: []scripted{{records: []optim.SKURecord{{ID: "A"}}}}}
	NewCollector(store, src, time.Hour).WithClock(func() time.Time { return at }).Collect(context.Background())
	assert.Equal(t, at, store.Current().CapturedAt)
}
