package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/knolprep/internal/domain"
)

// DefaultDebounce is the window in which bursts of saves are coalesced.
const DefaultDebounce = 500 * time.Millisecond

// writeTimeout bounds a debounced write, which has no caller context.
const writeTimeout = 10 * time.Second

type writeFunc func(ctx context.Context, s *domain.ReviewSession) error

type pendingSave struct {
	timer   *time.Timer
	session *domain.ReviewSession
	epoch   uint64
}

// Debouncer coalesces session writes per session key. Each key has a single
// pending slot: a new save replaces the pending one and restarts its timer,
// so the last save of a burst is the one written.
//
// Writes of one key are serialized. Cancel and Do advance the key's epoch,
// and a debounced write scheduled in an older epoch is dropped, so it cannot
// land after a direct write or a delete.
type Debouncer struct {
	delay time.Duration
	write writeFunc

	mu      sync.Mutex
	pending map[string]*pendingSave
	epochs  map[string]uint64
	locks   map[string]*sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// NewDebouncer returns a debouncer that calls write delay after the last
// save of each key.
func NewDebouncer(delay time.Duration, write writeFunc) *Debouncer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	return &Debouncer{
		delay:   delay,
		write:   write,
		pending: make(map[string]*pendingSave),
		epochs:  make(map[string]uint64),
		locks:   make(map[string]*sync.Mutex),
	}
}

// Schedule queues s to be written after the debounce window. Saves after
// Close are written immediately.
func (d *Debouncer) Schedule(key string, s *domain.ReviewSession) {
	d.mu.Lock()
	if d.closed {
		p := &pendingSave{session: s, epoch: d.epochs[key]}
		d.mu.Unlock()
		d.writeNow(key, p)
		return
	}
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	p := &pendingSave{session: s, epoch: d.epochs[key]}
	p.timer = time.AfterFunc(d.delay, func() { d.fire(key, p) })
	d.pending[key] = p
	d.mu.Unlock()
}

// Cancel drops the pending save of key, if any, and any debounced write of
// key that has not started yet.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked(key)
}

func (d *Debouncer) cancelLocked(key string) {
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	d.epochs[key]++
}

// Do cancels the pending save of key and runs fn once no write of key is in
// flight. Debounced writes scheduled before Do never land after fn.
func (d *Debouncer) Do(key string, fn func() error) error {
	d.mu.Lock()
	d.cancelLocked(key)
	lock := d.lockFor(key)
	d.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn()
}

// FlushKey writes the pending save of key now, if there is one, or waits
// for a write of key already in flight.
func (d *Debouncer) FlushKey(ctx context.Context, key string) error {
	d.mu.Lock()
	p, ok := d.pending[key]
	if ok {
		p.timer.Stop()
		delete(d.pending, key)
	}
	lock := d.lockFor(key)
	d.mu.Unlock()

	if !ok {
		lock.Lock()
		lock.Unlock()
		return nil
	}
	return d.writeOnce(ctx, key, p)
}

// Pending reports how many keys have a save waiting.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Flush writes every pending save now and returns the first error.
func (d *Debouncer) Flush(ctx context.Context) error {
	d.mu.Lock()
	batch := d.pending
	d.pending = make(map[string]*pendingSave)
	d.mu.Unlock()

	var firstErr error
	for key, p := range batch {
		p.timer.Stop()
		if err := d.writeOnce(ctx, key, p); err != nil {
			slog.Warn("failed to flush review session", "key", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close flushes pending saves, waits for in-flight timer writes and makes
// later saves synchronous.
func (d *Debouncer) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	err := d.Flush(ctx)
	d.wg.Wait()
	return err
}

func (d *Debouncer) fire(key string, p *pendingSave) {
	d.mu.Lock()
	if d.pending[key] != p {
		// Replaced, cancelled or flushed in the meantime.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()
	d.writeNow(key, p)
}

func (d *Debouncer) writeNow(key string, p *pendingSave) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := d.writeOnce(ctx, key, p); err != nil {
		slog.Warn("failed to save review session", "key", key, "error", err)
	}
}

// writeOnce writes p under the lock of key unless its epoch has passed.
func (d *Debouncer) writeOnce(ctx context.Context, key string, p *pendingSave) error {
	d.mu.Lock()
	lock := d.lockFor(key)
	d.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	d.mu.Lock()
	stale := d.epochs[key] != p.epoch
	d.mu.Unlock()
	if stale {
		return nil
	}
	return d.write(ctx, p.session)
}

// lockFor returns the write lock of key. d.mu must be held.
func (d *Debouncer) lockFor(key string) *sync.Mutex {
	lock, ok := d.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[key] = lock
	}
	return lock
}
