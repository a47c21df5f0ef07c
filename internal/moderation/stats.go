package moderation

import (
	"sort"
	"time"

	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/snapshot"
)

// Stats is a read-only snapshot for reporting; producing it never mutates
// moderation state.
type Stats struct {
	WarningsTotal     int            `json:"warnings_total"`
	TrustedCount      int            `json:"trusted_count"`
	ActiveEscalations int            `json:"active_escalations"`
	PatternStats      []pattern.Stat `json:"pattern_stats"`
}

func (e *Engine) GetModerationStats() Stats {
	stats := Stats{
		TrustedCount: e.registry.Count(),
		PatternStats: e.patterns.Stats(),
	}
	for _, rec := range e.store.all() {
		rec.mu.Lock()
		stats.WarningsTotal += len(rec.warnings)
		if rec.escalation.Level > 0 {
			stats.ActiveEscalations++
		}
		rec.mu.Unlock()
	}
	return stats
}

// UserHistory is the per-user reporting view.
type UserHistory struct {
	Username     string             `json:"username"`
	MessageCount uint64             `json:"message_count"`
	Warnings     []snapshot.Warning `json:"warnings"`
	FirstSeen    time.Time          `json:"first_seen"`
	LastActive   time.Time          `json:"last_active"`
	Trusted      bool               `json:"trusted"`
	Level        int                `json:"level"`
}

func (e *Engine) GetUserHistory(username string) (UserHistory, error) {
	name := core.NormalizeUsername(username)
	if name == "" {
		return UserHistory{}, ErrEmptyUsername
	}

	out := UserHistory{Username: name, Trusted: e.registry.IsTrusted(name)}
	rec, ok := e.store.peek(name)
	if !ok {
		return out, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	out.MessageCount = rec.messageCount
	out.Warnings = append([]snapshot.Warning(nil), rec.warnings...)
	out.FirstSeen = rec.firstSeen
	out.LastActive = rec.lastActive
	out.Level = rec.escalation.Level
	return out, nil
}

// ActiveEscalation is one row of the "who is currently escalated" view.
type ActiveEscalation struct {
	Username  string     `json:"username"`
	Level     int        `json:"level"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (e *Engine) ActiveEscalations() []ActiveEscalation {
	var out []ActiveEscalation
	for _, rec := range e.store.all() {
		rec.mu.Lock()
		if rec.escalation.Level > 0 {
			row := ActiveEscalation{Username: rec.name, Level: rec.escalation.Level}
			if rec.escalation.ExpiresAt != nil {
				t := *rec.escalation.ExpiresAt
				row.ExpiresAt = &t
			}
			out = append(out, row)
		}
		rec.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
