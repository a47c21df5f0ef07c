package moderation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/snapshot"
)

type memoryGateway struct {
	mu       sync.Mutex
	saved    *snapshot.Snapshot
	persists int
}

func (g *memoryGateway) Persist(snap snapshot.Snapshot) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.saved = &snap
	g.persists++
	return nil
}

func (g *memoryGateway) Load() (snapshot.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.saved == nil {
		return snapshot.Snapshot{}, nil
	}
	return *g.saved, nil
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	clock := newFakeClock()
	src := newTestEngine(t, clock, classify.Disabled)

	src.Trust("friend")
	moderate(t, src, message("spammer", "badword"))
	moderate(t, src, message("spammer", "badword"))
	moderate(t, src, message("civilian", "just chatting"))
	if _, err := src.HandleRaid(context.Background(), "raider_one", 120); err != nil {
		t.Fatal(err)
	}

	snap := src.Snapshot()

	dst := newTestEngine(t, clock, classify.Disabled)
	dst.Restore(snap)

	hist, err := dst.GetUserHistory("spammer")
	if err != nil {
		t.Fatal(err)
	}
	if hist.Level != 2 || len(hist.Warnings) != 2 {
		t.Fatalf("restored history = %+v", hist)
	}

	civ, err := dst.GetUserHistory("civilian")
	if err != nil {
		t.Fatal(err)
	}
	if civ.MessageCount != 1 || civ.Level != 0 {
		t.Fatalf("restored civilian = %+v", civ)
	}

	stats := dst.GetModerationStats()
	if stats.TrustedCount != 1 || stats.ActiveEscalations != 1 {
		t.Fatalf("restored stats = %+v", stats)
	}

	// restored expiry still decays on schedule
	clock.Advance(31 * time.Minute)
	if _, users := dst.Sweep(); users != 1 {
		t.Fatalf("restored escalation did not decay (%d users)", users)
	}
}

func TestRestoreLevelZeroDropsExpiry(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(t, clock, classify.Disabled)

	expires := clock.Now().Add(time.Hour)
	eng.Restore(snapshot.Snapshot{
		EscalationLevels: map[string]snapshot.EscalationState{
			"oddball": {Level: 0, ExpiresAt: &expires},
		},
	})

	hist, err := eng.GetUserHistory("oddball")
	if err != nil {
		t.Fatal(err)
	}
	if hist.Level != 0 {
		t.Fatalf("level = %d", hist.Level)
	}
	if _, users := eng.Sweep(); users != 0 {
		t.Fatalf("sweep decayed %d users on a clean record", users)
	}
}

func TestEngineLoadsFromGatewayOnStart(t *testing.T) {
	clock := newFakeClock()
	gw := &memoryGateway{}

	src, err := New(Options{
		Channel:         "testchannel",
		Policy:          testPolicy(),
		Classifier:      classify.Disabled,
		Gateway:         gw,
		Clock:           clock.Now,
		PersistDebounce: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	moderate(t, src, message("spammer", "badword"))
	src.Close()

	gw.mu.Lock()
	if gw.persists == 0 {
		gw.mu.Unlock()
		t.Fatal("close did not persist")
	}
	gw.mu.Unlock()

	dst, err := New(Options{
		Channel:    "testchannel",
		Policy:     testPolicy(),
		Classifier: classify.Disabled,
		Gateway:    gw,
		Clock:      clock.Now,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	hist, err := dst.GetUserHistory("spammer")
	if err != nil {
		t.Fatal(err)
	}
	if hist.Level != 1 {
		t.Fatalf("level after restart = %d, want 1", hist.Level)
	}
}
