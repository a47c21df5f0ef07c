package moderation

import (
	"context"
	"testing"
	"time"

	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/core"
)

func TestCheckIsSideEffectFree(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(t, clock, classify.Disabled)

	msg := message("spammer", "badword")
	out, err := eng.Check(context.Background(), msg)
	if err != nil {
		t.Fatal(err)
	}
	if out.Exempt || len(out.Violations) != 1 {
		t.Fatalf("check = %+v", out)
	}
	if out.WouldLevel != 1 || out.WouldAction != core.ActionWarn || out.WouldDuration != 5*time.Minute {
		t.Fatalf("projection = %+v", out)
	}

	// nothing moved: no record, no warnings, no pattern hits
	if _, err := eng.GetUserHistory("spammer"); err != nil {
		t.Fatal(err)
	}
	stats := eng.GetModerationStats()
	if stats.WarningsTotal != 0 || stats.ActiveEscalations != 0 {
		t.Fatalf("check mutated state: %+v", stats)
	}
	for _, ps := range stats.PatternStats {
		if ps.Count != 0 {
			t.Fatalf("check recorded a pattern hit: %+v", ps)
		}
	}
}

func TestCheckProjectsNextLevel(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(t, clock, classify.Disabled)

	for i := 0; i < 2; i++ {
		moderate(t, eng, message("spammer", "badword"))
	}

	out, err := eng.Check(context.Background(), message("spammer", "badword again"))
	if err != nil {
		t.Fatal(err)
	}
	if out.WouldLevel != 3 || out.WouldAction != core.ActionTimeout || out.WouldDuration != time.Hour {
		t.Fatalf("projection = %+v", out)
	}

	// projection accounts for pending decay
	clock.Advance(30 * time.Minute)
	out, err = eng.Check(context.Background(), message("spammer", "badword once more"))
	if err != nil {
		t.Fatal(err)
	}
	if out.WouldLevel != 2 {
		t.Fatalf("post-decay projection = %+v", out)
	}
}

func TestCheckExempt(t *testing.T) {
	clock := newFakeClock()
	eng := newTestEngine(t, clock, classify.Disabled)

	out, err := eng.Check(context.Background(), core.ChatMessage{
		Username: "themod", Text: "badword", Role: core.RoleModerator,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Exempt || len(out.Violations) != 0 {
		t.Fatalf("check = %+v", out)
	}
}
