package moderation

import (
	"sync"
	"time"

	"github.com/you/streamwarden/internal/snapshot"
)

// userRecord is all per-user moderation state. Records are created lazily on
// the first observed message or warning and live for the process lifetime.
// Each record carries its own lock so rapid messages from one user serialize
// against each other without stalling unrelated users.
type userRecord struct {
	mu sync.Mutex

	name         string
	messageCount uint64
	firstSeen    time.Time
	lastActive   time.Time
	recent       []snapshot.RecentMessage
	warnings     []snapshot.Warning
	escalation   snapshot.EscalationState
}

// decayLocked applies the one-step expiry rule: a past expiry lowers the
// level by one and clears the expiry. The lazy per-message path and the
// periodic sweep both call this and nothing else, so the two paths can never
// disagree. Returns true when a decay happened.
func (r *userRecord) decayLocked(now time.Time) bool {
	if r.escalation.ExpiresAt == nil || !now.After(*r.escalation.ExpiresAt) {
		return false
	}
	if r.escalation.Level > 0 {
		r.escalation.Level--
	}
	r.escalation.ExpiresAt = nil
	return true
}

func (r *userRecord) touchLocked(now time.Time) {
	if r.firstSeen.IsZero() {
		r.firstSeen = now
	}
	r.lastActive = now
}

func (r *userRecord) pushRecentLocked(msg snapshot.RecentMessage, limit int) {
	r.recent = append(r.recent, msg)
	if over := len(r.recent) - limit; over > 0 {
		r.recent = append([]snapshot.RecentMessage(nil), r.recent[over:]...)
	}
}

func (r *userRecord) recentTextsLocked() []string {
	out := make([]string, 0, len(r.recent))
	for _, m := range r.recent {
		out = append(out, m.Text)
	}
	return out
}

// userStore maps normalized usernames to records. The map lock is held only
// for lookup/insert; state mutation happens under the per-record lock.
type userStore struct {
	mu        sync.RWMutex
	users     map[string]*userRecord
	recentCap int
}

func newUserStore(recentCap int) *userStore {
	if recentCap <= 0 {
		recentCap = 100
	}
	return &userStore{users: make(map[string]*userRecord), recentCap: recentCap}
}

// get returns the record for a normalized username, creating it if needed.
func (s *userStore) get(name string) *userRecord {
	s.mu.RLock()
	rec, ok := s.users[name]
	s.mu.RUnlock()
	if ok {
		return rec
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.users[name]; ok {
		return rec
	}
	rec = &userRecord{name: name}
	s.users[name] = rec
	return rec
}

// peek returns the record without creating one.
func (s *userStore) peek(name string) (*userRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.users[name]
	return rec, ok
}

// all returns a stable copy of the record pointers for sweeping.
func (s *userStore) all() []*userRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*userRecord, 0, len(s.users))
	for _, rec := range s.users {
		out = append(out, rec)
	}
	return out
}
