package snapshot

import (
	"log/slog"
	"sync"
	"time"
)

// AsyncPersister serializes snapshot writes behind the message-handling
// path. Queue never blocks: a newer snapshot replaces any pending one, so
// the gateway only ever sees the latest document (last writer wins). A
// failed write is logged and dropped; the next queued snapshot includes the
// missed changes anyway.
type AsyncPersister struct {
	gateway  Gateway
	debounce time.Duration
	logger   *slog.Logger
	onError  func(error)

	mu      sync.Mutex
	pending *Snapshot
	timer   *time.Timer
	closed  bool

	// held for the duration of each gateway.Persist call
	wmu sync.Mutex
}

type AsyncOptions struct {
	// Debounce batches bursts of Queue calls into one write.
	Debounce time.Duration
	Logger   *slog.Logger
	// OnError is invoked (outside any lock) for each failed write.
	OnError func(error)
}

func NewAsyncPersister(gateway Gateway, opts AsyncOptions) *AsyncPersister {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncPersister{
		gateway:  gateway,
		debounce: opts.Debounce,
		logger:   logger,
		onError:  opts.OnError,
	}
}

// Queue schedules the snapshot for writing and returns immediately.
func (p *AsyncPersister) Queue(snap Snapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pending = &snap
	if p.timer == nil {
		delay := p.debounce
		if delay < 0 {
			delay = 0
		}
		p.timer = time.AfterFunc(delay, p.flush)
	}
	p.mu.Unlock()
}

func (p *AsyncPersister) flush() {
	p.mu.Lock()
	snap := p.pending
	p.pending = nil
	p.timer = nil
	p.mu.Unlock()

	if snap != nil {
		p.write(*snap)
	}
}

func (p *AsyncPersister) write(snap Snapshot) {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	if err := p.gateway.Persist(snap); err != nil {
		p.logger.Error("snapshot: persist failed", "err", err)
		if p.onError != nil {
			p.onError(err)
		}
	}
}

// Close stops accepting snapshots, waits for any in-flight write, and writes
// a pending snapshot if one was queued.
func (p *AsyncPersister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	snap := p.pending
	p.pending = nil
	p.mu.Unlock()

	if snap != nil {
		p.write(*snap)
		return
	}
	// wait out an in-flight flush so shutdown doesn't truncate it
	p.wmu.Lock()
	p.wmu.Unlock()
}
