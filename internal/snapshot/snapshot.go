// Package snapshot defines the persisted moderation state document and the
// gateway that saves and restores it. Persistence is a best-effort snapshot
// for restart recovery, not a transaction log: the engine's in-memory state
// stays authoritative between writes.
package snapshot

import (
	"time"

	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/raid"
)

// Snapshot is the whole-state document.
type Snapshot struct {
	SavedAt          time.Time                  `json:"saved_at"`
	Warnings         map[string][]Warning       `json:"warnings"`
	TrustedUsers     []string                   `json:"trusted_users"`
	RaidHistory      []raid.Event               `json:"raid_history"`
	ChatStats        map[string]ChatStat        `json:"chat_stats"`
	SpamPatterns     []pattern.Stat             `json:"spam_patterns"`
	EscalationLevels map[string]EscalationState `json:"escalation_levels"`
	BannedWords      []string                   `json:"banned_words"`
	Shadowbanned     []string                   `json:"shadowbanned"`
}

type Warning struct {
	Ts     time.Time `json:"ts"`
	Reason string    `json:"reason"`
}

type ChatStat struct {
	Messages   uint64          `json:"messages"`
	FirstSeen  time.Time       `json:"first_seen"`
	LastActive time.Time       `json:"last_active"`
	Recent     []RecentMessage `json:"recent,omitempty"`
}

// RecentMessage keeps the text plus whatever the classifier said about it.
// Toxicity is nil when classification failed for that message.
type RecentMessage struct {
	Text     string    `json:"text"`
	Ts       time.Time `json:"ts"`
	Toxicity *float64  `json:"toxicity,omitempty"`
	Emotion  string    `json:"emotion,omitempty"`
}

type EscalationState struct {
	Level     int               `json:"level"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	History   []EscalationEvent `json:"history,omitempty"`
}

type EscalationEvent struct {
	Ts         time.Time `json:"ts"`
	Violations []string  `json:"violations"`
	Action     string    `json:"action"`
	DurationS  int       `json:"duration_s"`
}

// Gateway saves and restores snapshots. Load failure must yield an empty
// default state at the caller, never a fatal error.
type Gateway interface {
	Persist(snap Snapshot) error
	Load() (Snapshot, error)
}
