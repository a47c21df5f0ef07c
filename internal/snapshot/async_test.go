package snapshot

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type recordingGateway struct {
	mu       sync.Mutex
	persists []Snapshot
	err      error
}

func (g *recordingGateway) Persist(snap Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.persists = append(g.persists, snap)
	return nil
}

func (g *recordingGateway) Load() (Snapshot, error) { return Snapshot{}, nil }

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.persists)
}

func (g *recordingGateway) last() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.persists[len(g.persists)-1]
}

func TestAsyncPersisterCoalesces(t *testing.T) {
	g := &recordingGateway{}
	p := NewAsyncPersister(g, AsyncOptions{Debounce: 50 * time.Millisecond})

	for i := 1; i <= 5; i++ {
		p.Queue(Snapshot{TrustedUsers: []string{"user", string(rune('a' + i))}})
	}
	p.Close()

	if got := g.count(); got != 1 {
		t.Fatalf("persist count = %d, want 1 (coalesced)", got)
	}
	if last := g.last(); len(last.TrustedUsers) != 2 || last.TrustedUsers[1] != "f" {
		t.Fatalf("latest snapshot not the one written: %+v", g.last())
	}
}

func TestAsyncPersisterWriteFailureIsSwallowed(t *testing.T) {
	g := &recordingGateway{err: errors.New("disk full")}
	var failures int
	var mu sync.Mutex
	p := NewAsyncPersister(g, AsyncOptions{OnError: func(error) {
		mu.Lock()
		failures++
		mu.Unlock()
	}})

	p.Queue(Snapshot{})
	p.Close()

	mu.Lock()
	defer mu.Unlock()
	if failures != 1 {
		t.Fatalf("failures = %d, want 1", failures)
	}
}

func TestAsyncPersisterQueueAfterClose(t *testing.T) {
	g := &recordingGateway{}
	p := NewAsyncPersister(g, AsyncOptions{})
	p.Close()
	p.Queue(Snapshot{TrustedUsers: []string{"late"}})

	time.Sleep(20 * time.Millisecond)
	if got := g.count(); got != 0 {
		t.Fatalf("persist count after close = %d, want 0", got)
	}
}
