package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCollectorRunning is returned when Start is called twice.
var ErrCollectorRunning = errors.New("collector already running")

// Collector periodically pulls records from a Source into a Store.
// A failed fetch is logged and the store keeps serving the last snapshot.
type Collector struct {
	store    *Store
	source   Source
	interval time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	failures atomic.Int64 // consecutive failed fetches
}

// NewCollector creates a Collector. Panics if interval is not positive.
func NewCollector(store *Store, source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		panic("snapshot.NewCollector: interval must be > 0")
	}
	return &Collector{
		store:    store,
		source:   source,
		interval: interval,
		now:      time.Now,
	}
}

// Failures returns the number of consecutive failed fetches.
func (c *Collector) Failures() int64 { return c.failures.Load() }

// WithClock replaces the capture-time clock. Intended for tests.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Start performs one synchronous collection, then keeps collecting every
// interval in the background until ctx is done or Stop is called.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrCollectorRunning
	}

	c.Collect(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(loopCtx, c.done)
	logrus.Infof("collector: started, interval %v", c.interval)
	return nil
}

// Stop ends the background loop and waits for it to exit. Safe to call when
// the collector is not running.
func (c *Collector) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	logrus.Infof("collector: stopped")
}

func (c *Collector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect(ctx)
		}
	}
}

// Collect fetches once and refreshes the store on success. It reports
// whether the store was refreshed.
func (c *Collector) Collect(ctx context.Context) bool {
	records, err := c.source.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		n := c.failures.Add(1)
		logrus.Warnf("collector: fetch failed (%d consecutive), serving snapshot v%d: %v",
			n, c.store.Version(), err)
		return false
	}
	c.failures.Store(0)
	snap := c.store.Refresh(records, c.now())
	logrus.Debugf("collector: snapshot v%d with %d SKUs", snap.Version, snap.Len())
	return true
}
