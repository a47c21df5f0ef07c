package moderation

import (
	"context"
	"time"

	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/core"
)

// CheckResult is the outcome of a dry-run: what the engine would do with a
// message, without any state changing.
type CheckResult struct {
	Username      string        `json:"username"`
	Exempt        bool          `json:"exempt"`
	Violations    []string      `json:"violations,omitempty"`
	WouldAction   core.Action   `json:"would_action,omitempty"`
	WouldDuration time.Duration `json:"would_duration,omitempty"`
	WouldLevel    int           `json:"would_level,omitempty"`
}

// Check evaluates a message against every rule without recording anything:
// no chat stats, no escalation movement, no pattern hit counts, no snapshot.
// The classifier still runs, with the same timeout and fail-open behavior as
// the live path.
func (e *Engine) Check(ctx context.Context, msg core.ChatMessage) (CheckResult, error) {
	name := core.NormalizeUsername(msg.Username)
	if name == "" {
		return CheckResult{}, ErrEmptyUsername
	}

	if e.exempt(name, msg) {
		return CheckResult{Username: name, Exempt: true}, nil
	}

	var result *classify.Result
	cctx, cancel := context.WithTimeout(ctx, e.classifyTimeout)
	res, err := e.classifier.Classify(cctx, msg.Text, name)
	cancel()
	if err == nil {
		result = res
	}

	now := e.now()
	var recent []string
	level := 0
	if rec, ok := e.store.peek(name); ok {
		rec.mu.Lock()
		recent = rec.recentTextsLocked()
		level = rec.escalation.Level
		// project the decay the live path would apply first
		if rec.escalation.ExpiresAt != nil && now.After(*rec.escalation.ExpiresAt) && level > 0 {
			level--
		}
		rec.mu.Unlock()
	}

	violations := e.detect.Probe(msg.Text, name, recent, result)
	out := CheckResult{Username: name, Violations: violations}
	if len(violations) == 0 {
		return out, nil
	}

	next := level + 1
	if top := e.policy.MaxLevel(); next > top {
		next = top
	}
	if step, ok := e.policy.Step(next); ok {
		out.WouldAction = core.Action(step.Action)
		out.WouldDuration = step.Duration()
		out.WouldLevel = next
	}
	return out, nil
}

// WatchWords reloads the banned word file whenever it changes on disk.
// The returned func stops the watch.
func (e *Engine) WatchWords(path string) (func(), error) {
	return e.words.Watch(path)
}

// ReloadWords re-reads the banned word file and swaps the list in place.
func (e *Engine) ReloadWords(path string) (int, error) {
	if err := e.words.LoadFile(path); err != nil {
		return 0, err
	}
	count := len(e.words.Banned())
	e.logger.Info("engine: banned words reloaded", "path", path, "count", count)
	e.queuePersist()
	return count, nil
}
