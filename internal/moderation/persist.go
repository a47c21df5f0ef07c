package moderation

import (
	"github.com/you/streamwarden/internal/snapshot"
)

// Snapshot assembles the whole-state document from every store. Safe to call
// concurrently with message handling; each record is copied under its lock.
func (e *Engine) Snapshot() snapshot.Snapshot {
	snap := snapshot.Snapshot{
		SavedAt:          e.now().UTC(),
		Warnings:         make(map[string][]snapshot.Warning),
		TrustedUsers:     e.registry.List(),
		RaidHistory:      e.raids.History(),
		ChatStats:        make(map[string]snapshot.ChatStat),
		SpamPatterns:     e.patterns.Stats(),
		EscalationLevels: make(map[string]snapshot.EscalationState),
		BannedWords:      e.words.Banned(),
		Shadowbanned:     e.words.Shadowbanned(),
	}

	active := 0
	for _, rec := range e.store.all() {
		rec.mu.Lock()
		if len(rec.warnings) > 0 {
			snap.Warnings[rec.name] = append([]snapshot.Warning(nil), rec.warnings...)
		}
		snap.ChatStats[rec.name] = snapshot.ChatStat{
			Messages:   rec.messageCount,
			FirstSeen:  rec.firstSeen,
			LastActive: rec.lastActive,
			Recent:     append([]snapshot.RecentMessage(nil), rec.recent...),
		}
		if rec.escalation.Level > 0 || len(rec.escalation.History) > 0 {
			state := snapshot.EscalationState{
				Level:   rec.escalation.Level,
				History: append([]snapshot.EscalationEvent(nil), rec.escalation.History...),
			}
			if rec.escalation.ExpiresAt != nil {
				t := *rec.escalation.ExpiresAt
				state.ExpiresAt = &t
			}
			snap.EscalationLevels[rec.name] = state
		}
		if rec.escalation.Level > 0 {
			active++
		}
		rec.mu.Unlock()
	}

	e.metrics.activeEscalations.Set(float64(active))
	return snap
}

// Restore replaces in-memory state with a persisted snapshot. Word lists in
// the snapshot override the policy seed only when present.
func (e *Engine) Restore(snap snapshot.Snapshot) {
	e.registry.Restore(snap.TrustedUsers)
	e.patterns.Restore(snap.SpamPatterns)
	e.raids.Restore(snap.RaidHistory)
	if len(snap.BannedWords) > 0 {
		e.words.SetBanned(snap.BannedWords)
	}
	if len(snap.Shadowbanned) > 0 {
		e.words.SetShadowbanned(snap.Shadowbanned)
	}

	for name, stat := range snap.ChatStats {
		rec := e.store.get(name)
		rec.mu.Lock()
		rec.messageCount = stat.Messages
		rec.firstSeen = stat.FirstSeen
		rec.lastActive = stat.LastActive
		rec.recent = append([]snapshot.RecentMessage(nil), stat.Recent...)
		rec.mu.Unlock()
	}
	for name, warnings := range snap.Warnings {
		rec := e.store.get(name)
		rec.mu.Lock()
		rec.warnings = append([]snapshot.Warning(nil), warnings...)
		rec.mu.Unlock()
	}
	for name, state := range snap.EscalationLevels {
		rec := e.store.get(name)
		rec.mu.Lock()
		rec.escalation.Level = state.Level
		rec.escalation.History = append([]snapshot.EscalationEvent(nil), state.History...)
		if state.ExpiresAt != nil {
			t := *state.ExpiresAt
			rec.escalation.ExpiresAt = &t
		} else {
			rec.escalation.ExpiresAt = nil
		}
		if rec.escalation.Level == 0 {
			// level 0 never carries an expiry
			rec.escalation.ExpiresAt = nil
		}
		rec.mu.Unlock()
	}
}

// queuePersist hands the current state to the async persister. It never
// blocks the message path and a write failure never rolls back memory.
func (e *Engine) queuePersist() {
	if e.persister == nil {
		return
	}
	e.persister.Queue(e.Snapshot())
}

// Close flushes a final snapshot and stops the persister.
func (e *Engine) Close() {
	if e.persister == nil {
		return
	}
	e.persister.Queue(e.Snapshot())
	e.persister.Close()
}
