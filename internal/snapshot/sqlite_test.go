package snapshot

import (
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/raid"
)

func openTestGateway(t *testing.T) *SQLiteGateway {
	t.Helper()
	g, err := OpenSQLite(filepath.Join(t.TempDir(), "warden.db"))
	if err != nil {
		t.Fatalf("open gateway: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func sampleSnapshot(now time.Time) Snapshot {
	expires := now.Add(15 * time.Minute)
	lastSeen := now.Add(-5 * time.Minute)
	tox := 0.91
	return Snapshot{
		SavedAt: now,
		Warnings: map[string][]Warning{
			"spammer": {
				{Ts: now.Add(-time.Hour), Reason: "detected urls spam"},
				{Ts: now, Reason: "contains banned word/phrase"},
			},
		},
		TrustedUsers: []string{"friend"},
		RaidHistory: []raid.Event{
			{Raider: "neighbour", Viewers: 42, Ts: now.Add(-2 * time.Hour)},
			{Raider: "horde", Viewers: 1200, Ts: now, Suspicious: true},
		},
		ChatStats: map[string]ChatStat{
			"spammer": {
				Messages:   17,
				FirstSeen:  now.Add(-24 * time.Hour),
				LastActive: now,
				Recent: []RecentMessage{
					{Text: "buy now", Ts: now, Toxicity: &tox, Emotion: "anger"},
				},
			},
		},
		SpamPatterns: []pattern.Stat{
			{ID: "capitals", Count: 0, Severity: 0.5},
			{ID: "urls", Count: 9, Severity: 0.8, LastSeen: &lastSeen},
		},
		EscalationLevels: map[string]EscalationState{
			"spammer": {
				Level:     2,
				ExpiresAt: &expires,
				History: []EscalationEvent{
					{Ts: now, Violations: []string{"detected urls spam"}, Action: "timeout", DurationS: 900},
				},
			},
		},
		BannedWords:  []string{"badword", "worseword"},
		Shadowbanned: []string{"ghost"},
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	g := openTestGateway(t)
	now := time.Now().UTC().Truncate(time.Millisecond)
	want := sampleSnapshot(now)

	if err := g.Persist(want); err != nil {
		t.Fatalf("persist: %v", err)
	}
	got, err := g.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !got.SavedAt.Equal(want.SavedAt) {
		t.Fatalf("saved_at = %v, want %v", got.SavedAt, want.SavedAt)
	}
	if !reflect.DeepEqual(got.TrustedUsers, want.TrustedUsers) {
		t.Fatalf("trusted = %v, want %v", got.TrustedUsers, want.TrustedUsers)
	}
	if !reflect.DeepEqual(got.BannedWords, want.BannedWords) {
		t.Fatalf("banned = %v, want %v", got.BannedWords, want.BannedWords)
	}
	if !reflect.DeepEqual(got.Shadowbanned, want.Shadowbanned) {
		t.Fatalf("shadowbanned = %v, want %v", got.Shadowbanned, want.Shadowbanned)
	}
	if len(got.Warnings["spammer"]) != 2 || got.Warnings["spammer"][1].Reason != "contains banned word/phrase" {
		t.Fatalf("warnings = %+v", got.Warnings)
	}
	if len(got.RaidHistory) != 2 || !got.RaidHistory[1].Suspicious || got.RaidHistory[1].Viewers != 1200 {
		t.Fatalf("raid history = %+v", got.RaidHistory)
	}

	stat, ok := got.ChatStats["spammer"]
	if !ok || stat.Messages != 17 || len(stat.Recent) != 1 {
		t.Fatalf("chat stats = %+v", got.ChatStats)
	}
	if stat.Recent[0].Toxicity == nil || *stat.Recent[0].Toxicity != 0.91 {
		t.Fatalf("recent toxicity = %+v", stat.Recent[0])
	}

	if len(got.SpamPatterns) != 2 {
		t.Fatalf("patterns = %+v", got.SpamPatterns)
	}
	if got.SpamPatterns[1].ID != "urls" || got.SpamPatterns[1].Count != 9 || got.SpamPatterns[1].LastSeen == nil {
		t.Fatalf("urls pattern = %+v", got.SpamPatterns[1])
	}

	state, ok := got.EscalationLevels["spammer"]
	if !ok || state.Level != 2 || state.ExpiresAt == nil || !state.ExpiresAt.Equal(expiresOf(want)) {
		t.Fatalf("escalation = %+v", state)
	}
	if len(state.History) != 1 || state.History[0].Action != "timeout" || state.History[0].DurationS != 900 {
		t.Fatalf("escalation history = %+v", state.History)
	}
}

func expiresOf(s Snapshot) time.Time {
	return *s.EscalationLevels["spammer"].ExpiresAt
}

func TestPersistReplacesWholeDocument(t *testing.T) {
	g := openTestGateway(t)
	now := time.Now().UTC()

	if err := g.Persist(sampleSnapshot(now)); err != nil {
		t.Fatalf("persist: %v", err)
	}

	smaller := Snapshot{
		SavedAt:      now.Add(time.Minute),
		TrustedUsers: []string{"only_one"},
	}
	if err := g.Persist(smaller); err != nil {
		t.Fatalf("second persist: %v", err)
	}

	got, err := g.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Warnings) != 0 || len(got.RaidHistory) != 0 || len(got.BannedWords) != 0 {
		t.Fatalf("old rows survived: %+v", got)
	}
	if len(got.TrustedUsers) != 1 || got.TrustedUsers[0] != "only_one" {
		t.Fatalf("trusted = %v", got.TrustedUsers)
	}
}

func TestLoadEmptyDatabase(t *testing.T) {
	g := openTestGateway(t)
	got, err := g.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got.Warnings) != 0 || len(got.ChatStats) != 0 || len(got.EscalationLevels) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", got)
	}
}
