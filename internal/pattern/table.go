// Package pattern holds the fixed table of spam signatures. Identity is
// static for the life of the process; count and severity are mutable and
// bounded: a hit adds HitBoost up to Cap, the periodic sweep subtracts
// DecayStep down to Floor once a pattern has fired at least once.
package pattern

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pkg/errors"
)

// Matcher is a compiled spam signature. Implementations must be safe for
// concurrent use.
type Matcher interface {
	Match(text string) bool
}

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) Match(text string) bool { return m.re.MatchString(text) }

type funcMatcher func(string) bool

func (m funcMatcher) Match(text string) bool { return m(text) }

const (
	IDRepetition = "repetition"
	IDURLs       = "urls"
	IDCapitals   = "capitals"
	IDEmoteSpam  = "emoteSpam"
)

const initialSeverity = 0.5

type entry struct {
	id       string
	matcher  Matcher
	count    uint64
	severity float64
	lastSeen time.Time // zero until the pattern first fires
}

// Bounds carries the severity tuning for the whole table.
type Bounds struct {
	HitBoost   float64
	DecayStep  float64
	Floor      float64
	Cap        float64
	DecayAfter time.Duration
}

func DefaultBounds() Bounds {
	return Bounds{HitBoost: 0.1, DecayStep: 0.2, Floor: 0.5, Cap: 1.0, DecayAfter: time.Hour}
}

// Table is the set of signatures. Safe for concurrent use.
type Table struct {
	bounds Bounds

	mu      sync.Mutex
	entries []*entry
}

// NewTable builds the builtin signature set plus any extra regex signatures.
func NewTable(bounds Bounds, extras map[string]string) (*Table, error) {
	t := &Table{bounds: bounds}
	t.entries = []*entry{
		{id: IDRepetition, matcher: funcMatcher(matchRepetition), severity: initialSeverity},
		{id: IDURLs, matcher: regexMatcher{regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)}, severity: initialSeverity},
		{id: IDCapitals, matcher: funcMatcher(matchCapitals), severity: initialSeverity},
		{id: IDEmoteSpam, matcher: regexMatcher{regexp.MustCompile(`(?::\w+:[\s]*){5,}`)}, severity: initialSeverity},
	}

	ids := make([]string, 0, len(extras))
	for id := range extras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if t.lookup(id) != nil {
			return nil, errors.Errorf("pattern: duplicate id %q", id)
		}
		re, err := regexp.Compile(extras[id])
		if err != nil {
			return nil, errors.Wrapf(err, "pattern: compile %q", id)
		}
		t.entries = append(t.entries, &entry{id: id, matcher: regexMatcher{re}, severity: initialSeverity})
	}
	return t, nil
}

func (t *Table) lookup(id string) *entry {
	for _, e := range t.entries {
		if e.id == id {
			return e
		}
	}
	return nil
}

// MatchAll reports the ids of every signature the text trips, recording the
// hit (count, lastSeen, severity boost) as a side effect.
func (t *Table) MatchAll(text string, now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var hits []string
	for _, e := range t.entries {
		if !e.matcher.Match(text) {
			continue
		}
		e.count++
		e.lastSeen = now
		e.severity = min(t.bounds.Cap, e.severity+t.bounds.HitBoost)
		hits = append(hits, e.id)
	}
	return hits
}

// Probe reports the ids the text trips without recording the hit. Used for
// dry-run checks that must not move counts or severities.
func (t *Table) Probe(text string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var hits []string
	for _, e := range t.entries {
		if e.matcher.Match(text) {
			hits = append(hits, e.id)
		}
	}
	return hits
}

// DecaySweep reduces the severity of every signature unseen for longer than
// DecayAfter. Signatures that have never fired are untouched. Returns the
// number of entries decayed.
func (t *Table) DecaySweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	decayed := 0
	cutoff := now.Add(-t.bounds.DecayAfter)
	for _, e := range t.entries {
		if e.lastSeen.IsZero() || e.lastSeen.After(cutoff) {
			continue
		}
		next := max(t.bounds.Floor, e.severity-t.bounds.DecayStep)
		if next != e.severity {
			e.severity = next
			decayed++
		}
	}
	return decayed
}

// Stat is a read-only view of one signature.
type Stat struct {
	ID       string     `json:"id"`
	Count    uint64     `json:"count"`
	Severity float64    `json:"severity"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

func (t *Table) Stats() []Stat {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Stat, 0, len(t.entries))
	for _, e := range t.entries {
		s := Stat{ID: e.id, Count: e.count, Severity: e.severity}
		if !e.lastSeen.IsZero() {
			seen := e.lastSeen
			s.LastSeen = &seen
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore applies persisted counters onto the compiled table. Unknown ids in
// the snapshot are ignored; the signature set itself is fixed.
func (t *Table) Restore(stats []Stat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range stats {
		e := t.lookup(s.ID)
		if e == nil {
			continue
		}
		e.count = s.Count
		e.severity = clamp(s.Severity, t.bounds.Floor, t.bounds.Cap)
		if s.LastSeen != nil {
			e.lastSeen = *s.LastSeen
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// matchRepetition fires on a long run of one character or the same word
// repeated five or more times in a row.
func matchRepetition(text string) bool {
	var prev rune
	run := 0
	for _, r := range text {
		if r == prev {
			run++
			if run >= 10 {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}

	words := strings.Fields(strings.ToLower(text))
	repeats := 1
	for i := 1; i < len(words); i++ {
		if words[i] == words[i-1] {
			repeats++
			if repeats >= 5 {
				return true
			}
		} else {
			repeats = 1
		}
	}
	return false
}

// matchCapitals fires when a message with at least ten letters is over 70%
// upper-case.
func matchCapitals(text string) bool {
	letters, upper := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 10 {
		return false
	}
	return float64(upper)/float64(letters) > 0.7
}
