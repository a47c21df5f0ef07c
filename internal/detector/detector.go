// Package detector turns one chat message into a list of named violations.
// Rules are evaluated independently: every rule that matches is reported, in
// a fixed order, with no short-circuiting. Exemption checks live in the
// engine; by the time a message reaches the detector it is moderatable.
package detector

import (
	"fmt"
	"time"

	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/wordlist"
)

const (
	ViolationSimilarSpam = "message spam (too similar)"
	ViolationShadowban   = "user is shadowbanned"
	ViolationBannedWord  = "contains banned word/phrase"
	ViolationToxicity    = "excessive toxicity"
)

type Options struct {
	SimilarityThreshold float64
	SimilarityWindow    int
	ToxicityThreshold   float64
}

type Detector struct {
	patterns *pattern.Table
	words    *wordlist.List
	opts     Options
}

func New(patterns *pattern.Table, words *wordlist.List, opts Options) *Detector {
	if opts.SimilarityWindow <= 0 {
		opts.SimilarityWindow = 5
	}
	return &Detector{patterns: patterns, words: words, opts: opts}
}

// Detect runs every rule over one message and returns all violations found.
// recent is the user's message history, newest last; result is nil when the
// classifier failed, which skips only the toxicity rule.
func (d *Detector) Detect(text, username string, recent []string, result *classify.Result, now time.Time) []string {
	var violations []string

	if d.tooSimilar(text, recent) {
		violations = append(violations, ViolationSimilarSpam)
	}

	if d.words.IsShadowbanned(username) {
		violations = append(violations, ViolationShadowban)
	}

	if _, ok := d.words.MatchBanned(text); ok {
		violations = append(violations, ViolationBannedWord)
	}

	if result != nil && result.Toxicity > d.opts.ToxicityThreshold {
		violations = append(violations, ViolationToxicity)
	}

	for _, id := range d.patterns.MatchAll(text, now) {
		violations = append(violations, fmt.Sprintf("detected %s spam", id))
	}

	return violations
}

// Probe runs the same rules as Detect but records nothing: pattern counts
// and severities stay where they are. Used for dry-run checks.
func (d *Detector) Probe(text, username string, recent []string, result *classify.Result) []string {
	var violations []string

	if d.tooSimilar(text, recent) {
		violations = append(violations, ViolationSimilarSpam)
	}
	if d.words.IsShadowbanned(username) {
		violations = append(violations, ViolationShadowban)
	}
	if _, ok := d.words.MatchBanned(text); ok {
		violations = append(violations, ViolationBannedWord)
	}
	if result != nil && result.Toxicity > d.opts.ToxicityThreshold {
		violations = append(violations, ViolationToxicity)
	}
	for _, id := range d.patterns.Probe(text) {
		violations = append(violations, fmt.Sprintf("detected %s spam", id))
	}

	return violations
}

// tooSimilar compares the message against the last few the user sent.
func (d *Detector) tooSimilar(text string, recent []string) bool {
	current := tokenSet(text)
	if len(current) == 0 {
		return false
	}

	window := recent
	if len(window) > d.opts.SimilarityWindow {
		window = window[len(window)-d.opts.SimilarityWindow:]
	}

	for _, prev := range window {
		if overlapRatio(current, tokenSet(prev)) > d.opts.SimilarityThreshold {
			return true
		}
	}
	return false
}

// overlapRatio is |common| / max(|a|, |b|).
func overlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			common++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(common) / float64(denom)
}
