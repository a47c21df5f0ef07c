// Package raid scores incoming raids against recent raid history. The
// assessor only advises; it never carries out an action itself.
package raid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/platform"
)

// Event is one recorded raid, kept in a bounded ring.
type Event struct {
	Raider     string    `json:"raider"`
	Viewers    uint      `json:"viewers"`
	Ts         time.Time `json:"ts"`
	Suspicious bool      `json:"suspicious"`
}

// Assessment is the advisory verdict for one raid.
type Assessment struct {
	Raider            string   `json:"raider"`
	Viewers           uint     `json:"viewers"`
	Safe              bool     `json:"safe"`
	Suspicious        bool     `json:"suspicious"`
	Reasons           []string `json:"reasons,omitempty"`
	RecommendedAction string   `json:"recommended_action,omitempty"`
}

// TrustChecker is the slice of the trust registry the assessor needs.
type TrustChecker interface {
	IsTrusted(username string) bool
}

type Options struct {
	Ratio          float64 // viewer multiple of the rolling average that flags a raid
	Window         int     // events in the rolling average
	History        int     // ring buffer capacity
	BigRaidViewers uint    // outright-flag threshold
	NewAccountDays uint    // accounts younger than this are flagged
	MaxPerRaider   int     // raids from one raider per 24h before flagging
}

func DefaultOptions() Options {
	return Options{Ratio: 10, Window: 10, History: 100, BigRaidViewers: 1000, NewAccountDays: 7, MaxPerRaider: 2}
}

// Assessor is safe for concurrent use.
type Assessor struct {
	opts     Options
	trusted  TrustChecker
	platform platform.Client
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	events []Event
}

func NewAssessor(opts Options, trusted TrustChecker, pc platform.Client, now func() time.Time, logger *slog.Logger) *Assessor {
	if opts.Window <= 0 {
		opts.Window = 10
	}
	if opts.History <= 0 {
		opts.History = 100
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{opts: opts, trusted: trusted, platform: pc, now: now, logger: logger}
}

// Assess scores one raid and records it. Trusted raiders bypass every check
// but their raids still count toward the rolling volume history.
func (a *Assessor) Assess(ctx context.Context, raider string, viewers uint) Assessment {
	name := core.NormalizeUsername(raider)
	now := a.now()

	out := Assessment{Raider: name, Viewers: viewers}

	if a.trusted != nil && a.trusted.IsTrusted(name) {
		out.Safe = true
		a.record(Event{Raider: name, Viewers: viewers, Ts: now})
		return out
	}

	a.mu.Lock()
	avg := a.averageViewersLocked()
	recentFromRaider := a.countFromRaiderLocked(name, now.Add(-24*time.Hour))
	a.mu.Unlock()

	if avg > 0 {
		base := avg
		if base < 1 {
			base = 1
		}
		if ratio := float64(viewers) / base; ratio > a.opts.Ratio {
			out.Suspicious = true
			out.Reasons = append(out.Reasons, fmt.Sprintf("raid size %.1fx the recent average of %.0f viewers", ratio, avg))
		}
	}

	if a.opts.BigRaidViewers > 0 && viewers > a.opts.BigRaidViewers {
		out.Reasons = append(out.Reasons, fmt.Sprintf("unusually large raid (%d viewers)", viewers))
	}

	if a.platform != nil && a.opts.NewAccountDays > 0 {
		// lookup failure degrades to "established account", never a flag
		if days, err := a.platform.AccountAgeDays(ctx, name); err != nil {
			a.logger.Warn("raid: account age lookup failed", "raider", name, "err", err)
		} else if days < a.opts.NewAccountDays {
			out.Reasons = append(out.Reasons, fmt.Sprintf("raider account is %d days old", days))
		}
	}

	if a.opts.MaxPerRaider > 0 && recentFromRaider >= a.opts.MaxPerRaider {
		out.Reasons = append(out.Reasons, fmt.Sprintf("%d raids from %s in the last 24h", recentFromRaider+1, name))
	}

	out.Safe = len(out.Reasons) == 0
	if !out.Safe {
		out.RecommendedAction = "enable follower-only mode temporarily"
	}

	a.record(Event{Raider: name, Viewers: viewers, Ts: now, Suspicious: out.Suspicious || !out.Safe})
	return out
}

func (a *Assessor) record(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
	if over := len(a.events) - a.opts.History; over > 0 {
		a.events = append([]Event(nil), a.events[over:]...)
	}
}

// averageViewersLocked is the mean over the last Window events, 0 if empty.
func (a *Assessor) averageViewersLocked() float64 {
	window := a.events
	if len(window) > a.opts.Window {
		window = window[len(window)-a.opts.Window:]
	}
	if len(window) == 0 {
		return 0
	}
	total := uint(0)
	for _, ev := range window {
		total += ev.Viewers
	}
	return float64(total) / float64(len(window))
}

func (a *Assessor) countFromRaiderLocked(name string, since time.Time) int {
	n := 0
	for _, ev := range a.events {
		if ev.Raider == name && ev.Ts.After(since) {
			n++
		}
	}
	return n
}

// History returns a copy of the recorded events, newest last.
func (a *Assessor) History() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Restore replaces the ring buffer with persisted events.
func (a *Assessor) Restore(events []Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if over := len(events) - a.opts.History; over > 0 {
		events = events[over:]
	}
	a.events = append([]Event(nil), events...)
}
