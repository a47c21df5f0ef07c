package detector

import (
	"strings"
	"testing"
	"time"

	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/wordlist"
)

func newTestDetector(t *testing.T, banned, shadow []string) *Detector {
	t.Helper()
	tbl, err := pattern.NewTable(pattern.DefaultBounds(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return New(tbl, wordlist.NewList(banned, shadow), Options{
		SimilarityThreshold: 0.8,
		SimilarityWindow:    5,
		ToxicityThreshold:   0.8,
	})
}

func TestSimilaritySpam(t *testing.T) {
	d := newTestDetector(t, nil, nil)
	now := time.Now()

	recent := []string{"hey check out my cool channel"}
	got := d.Detect("hey check out my cool channel", "u1", recent, nil, now)
	if !contains(got, ViolationSimilarSpam) {
		t.Fatalf("identical repeat not flagged: %v", got)
	}

	got = d.Detect("what a great play that was", "u1", recent, nil, now)
	if contains(got, ViolationSimilarSpam) {
		t.Fatalf("unrelated message flagged: %v", got)
	}
}

func TestSimilarityWindowOnlyLastFive(t *testing.T) {
	d := newTestDetector(t, nil, nil)
	now := time.Now()

	recent := []string{"the ancient duplicate message here"}
	for i := 0; i < 5; i++ {
		recent = append(recent, "filler chatter number "+strings.Repeat("x", i+1))
	}

	got := d.Detect("the ancient duplicate message here", "u1", recent, nil, now)
	if contains(got, ViolationSimilarSpam) {
		t.Fatalf("message outside the 5-message window flagged: %v", got)
	}
}

func TestShadowbanAndBannedWord(t *testing.T) {
	d := newTestDetector(t, []string{"forbidden"}, []string{"ghost"})
	now := time.Now()

	got := d.Detect("totally FORBIDDEN content", "Ghost", nil, nil, now)
	if !contains(got, ViolationShadowban) || !contains(got, ViolationBannedWord) {
		t.Fatalf("expected shadowban + banned word, got %v", got)
	}

	// all matching rules are reported, not just the first
	if len(got) < 2 {
		t.Fatalf("rules short-circuited: %v", got)
	}
}

func TestToxicityGatedOnClassifier(t *testing.T) {
	d := newTestDetector(t, nil, nil)
	now := time.Now()

	if got := d.Detect("some message", "u1", nil, &classify.Result{Toxicity: 0.95}, now); !contains(got, ViolationToxicity) {
		t.Fatalf("toxic message not flagged: %v", got)
	}
	if got := d.Detect("some message", "u1", nil, &classify.Result{Toxicity: 0.5}, now); contains(got, ViolationToxicity) {
		t.Fatalf("mild message flagged: %v", got)
	}
	// classifier failure skips only the toxicity rule
	if got := d.Detect("some message", "u1", nil, nil, now); contains(got, ViolationToxicity) {
		t.Fatalf("nil result must not flag toxicity: %v", got)
	}
}

func TestPatternViolationLabel(t *testing.T) {
	d := newTestDetector(t, nil, nil)
	got := d.Detect("spam at https://bad.example", "u1", nil, nil, time.Now())
	if !contains(got, "detected urls spam") {
		t.Fatalf("url pattern not reported: %v", got)
	}
}

func TestUnicodeLookalikesCompareEqual(t *testing.T) {
	d := newTestDetector(t, nil, nil)
	recent := []string{"follow my channel for free stuff"}
	got := d.Detect("fóllów my channel for free stuff", "u1", recent, nil, time.Now())
	if !contains(got, ViolationSimilarSpam) {
		t.Fatalf("accent-folded repeat not flagged: %v", got)
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
