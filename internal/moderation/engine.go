// Package moderation is the escalation engine: it ingests chat messages and
// raid events, classifies and scores them, advances per-user graduated
// penalty state, and emits verdicts. It decides what action to take and why;
// carrying the action out on the platform belongs to the dispatch layer.
package moderation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/streamwarden/internal/audit"
	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/config"
	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/detector"
	"github.com/you/streamwarden/internal/pattern"
	"github.com/you/streamwarden/internal/platform"
	"github.com/you/streamwarden/internal/raid"
	"github.com/you/streamwarden/internal/snapshot"
	"github.com/you/streamwarden/internal/trust"
	"github.com/you/streamwarden/internal/wordlist"
)

var ErrEmptyUsername = errors.New("moderation: empty username")

// Engine is one channel's moderation state machine. Construct with New;
// all collaborators are injected so tests can run with a fake clock and a
// fake classifier.
type Engine struct {
	channel string
	policy  config.Policy
	logger  *slog.Logger
	now     func() time.Time

	patterns   *pattern.Table
	words      *wordlist.List
	registry   *trust.Registry
	detect     *detector.Detector
	classifier classify.Classifier
	raids      *raid.Assessor
	store      *userStore
	persister  *snapshot.AsyncPersister
	metrics    *Metrics

	classifyTimeout time.Duration
	notify          func(core.Verdict)
}

type Options struct {
	Channel    string
	Policy     config.Policy
	Classifier classify.Classifier
	// Gateway is optional; without one the engine runs memory-only.
	Gateway snapshot.Gateway
	// Platform is optional; without one raid account-age checks are skipped.
	Platform platform.Client
	Logger   *slog.Logger
	// Registry receives the engine's collectors; nil disables metrics export.
	Registry        prometheus.Registerer
	Clock           func() time.Time
	ClassifyTimeout time.Duration
	// PersistDebounce batches snapshot writes triggered by chat traffic.
	PersistDebounce time.Duration
	// Notify is called with every verdict, outside all locks.
	Notify func(core.Verdict)
}

func New(opts Options) (*Engine, error) {
	if err := opts.Policy.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	classifier := opts.Classifier
	if classifier == nil {
		classifier = classify.Disabled
	}
	classifyTimeout := opts.ClassifyTimeout
	if classifyTimeout <= 0 {
		classifyTimeout = 1500 * time.Millisecond
	}

	extras := make(map[string]string, len(opts.Policy.ExtraPatterns))
	for _, def := range opts.Policy.ExtraPatterns {
		extras[def.ID] = def.Regex
	}
	patterns, err := pattern.NewTable(pattern.Bounds{
		HitBoost:   opts.Policy.Pattern.HitBoost,
		DecayStep:  opts.Policy.Pattern.DecayStep,
		Floor:      opts.Policy.Pattern.Floor,
		Cap:        opts.Policy.Pattern.Cap,
		DecayAfter: time.Duration(opts.Policy.Pattern.DecayAfterS) * time.Second,
	}, extras)
	if err != nil {
		return nil, err
	}

	words := wordlist.NewList(opts.Policy.BannedWords, opts.Policy.Shadowbanned)
	registry := trust.NewRegistry()
	metrics := newMetrics(opts.Registry)

	eng := &Engine{
		channel:    opts.Channel,
		policy:     opts.Policy,
		logger:     logger,
		now:        clock,
		patterns:   patterns,
		words:      words,
		registry:   registry,
		classifier: classifier,
		store:      newUserStore(opts.Policy.RecentMessages),
		metrics:    metrics,

		classifyTimeout: classifyTimeout,
		notify:          opts.Notify,
	}

	eng.detect = detector.New(patterns, words, detector.Options{
		SimilarityThreshold: opts.Policy.Similarity.Threshold,
		SimilarityWindow:    opts.Policy.Similarity.Window,
		ToxicityThreshold:   opts.Policy.ToxicityThreshold,
	})

	eng.raids = raid.NewAssessor(raid.Options{
		Ratio:          opts.Policy.Raid.Ratio,
		Window:         opts.Policy.Raid.Window,
		History:        opts.Policy.Raid.History,
		BigRaidViewers: uint(opts.Policy.Raid.BigRaidViewers),
		NewAccountDays: uint(opts.Policy.Raid.NewAccountDays),
		MaxPerRaider:   opts.Policy.Raid.MaxPerRaiderIn,
	}, registry, opts.Platform, clock, logger)

	if opts.Gateway != nil {
		eng.persister = snapshot.NewAsyncPersister(opts.Gateway, snapshot.AsyncOptions{
			Debounce: opts.PersistDebounce,
			Logger:   logger,
			OnError:  func(error) { metrics.persistErrors.Inc() },
		})
		eng.restoreFrom(opts.Gateway)
	}

	return eng, nil
}

// restoreFrom loads the persisted snapshot. Any failure falls back to the
// empty default state; the engine must moderate with a cold cache rather
// than refuse to boot.
func (e *Engine) restoreFrom(gateway snapshot.Gateway) {
	snap, err := gateway.Load()
	if err != nil {
		e.logger.Warn("engine: snapshot load failed, starting cold", "err", err)
		return
	}
	e.Restore(snap)
	e.logger.Info("engine: state restored",
		"users", len(snap.ChatStats), "trusted", len(snap.TrustedUsers), "saved_at", snap.SavedAt)
}

// ModerateMessage scores one message and returns a verdict, or nil when the
// message is clean or the sender exempt. The only returned error is for
// invalid input.
func (e *Engine) ModerateMessage(ctx context.Context, msg core.ChatMessage) (*core.Verdict, error) {
	name := core.NormalizeUsername(msg.Username)
	if name == "" {
		return nil, ErrEmptyUsername
	}
	now := e.now()
	trace := audit.NewDecisionTrace(e.channel, name, snippet(msg.Text))

	// Exempt senders are never scored, but their chat stats still count.
	if e.exempt(name, msg) {
		trace.Mark(audit.StageExempt)
		e.recordMessage(name, msg.Text, nil, now)
		e.metrics.messagesTotal.WithLabelValues("exempt").Inc()
		e.queuePersist()
		return nil, nil
	}

	// The classifier is the only external call on this path. It runs with a
	// bounded timeout and no locks held; failure degrades to "no toxicity
	// signal" and must never punish the user or stall the other rules.
	var result *classify.Result
	cctx, cancel := context.WithTimeout(ctx, e.classifyTimeout)
	res, err := e.classifier.Classify(cctx, msg.Text, name)
	cancel()
	if err != nil {
		e.metrics.classifierFailures.Inc()
		trace.Mark(audit.StageSkipped("toxicity"))
		e.logger.Debug("engine: classifier unavailable", "user", name, "err", err)
	} else {
		result = res
		trace.Mark(audit.StageClassified)
	}

	rec := e.store.get(name)
	rec.mu.Lock()

	rec.decayLocked(now)
	violations := e.detect.Detect(msg.Text, name, rec.recentTextsLocked(), result, now)

	rec.touchLocked(now)
	rec.messageCount++
	rec.pushRecentLocked(recentMessage(msg.Text, result, now), e.store.recentCap)

	if len(violations) == 0 {
		rec.mu.Unlock()
		trace.Mark(audit.StageClean)
		e.metrics.messagesTotal.WithLabelValues("clean").Inc()
		e.queuePersist()
		return nil, nil
	}

	trace.Mark(audit.StageViolation)
	reason := strings.Join(violations, ", ")

	level := rec.escalation.Level + 1
	if top := e.policy.MaxLevel(); level > top {
		level = top
	}
	step, ok := e.policy.Step(level)
	if !ok {
		// defensive: an unconfigured level moderates as if clean
		rec.mu.Unlock()
		e.logger.Error("engine: no ladder step for level, skipping verdict", "level", level, "user", name)
		e.metrics.messagesTotal.WithLabelValues("clean").Inc()
		e.queuePersist()
		return nil, nil
	}

	rec.escalation.Level = level
	if d := step.Duration(); d > 0 {
		expires := now.Add(d)
		rec.escalation.ExpiresAt = &expires
	} else {
		rec.escalation.ExpiresAt = nil
	}
	rec.escalation.History = append(rec.escalation.History, snapshot.EscalationEvent{
		Ts:         now,
		Violations: append([]string(nil), violations...),
		Action:     step.Action,
		DurationS:  step.DurationS,
	})
	rec.warnings = append(rec.warnings, snapshot.Warning{Ts: now, Reason: reason})
	rec.mu.Unlock()

	trace.Mark(audit.StageEscalated)
	verdict := core.Verdict{
		Username: name,
		Action:   core.Action(step.Action),
		Duration: step.Duration(),
		Level:    level,
		Reason:   reason,
		Ts:       now,
	}

	e.metrics.messagesTotal.WithLabelValues("violation").Inc()
	e.metrics.verdictsTotal.WithLabelValues(step.Action).Inc()
	for _, v := range violations {
		e.metrics.violationsTotal.WithLabelValues(v).Inc()
	}
	trace.Log(e.logger, "engine: verdict")

	if e.notify != nil {
		e.notify(verdict)
	}
	e.queuePersist()
	trace.Mark(audit.StagePersisted)

	return &verdict, nil
}

func (e *Engine) exempt(name string, msg core.ChatMessage) bool {
	if msg.Role.Exempt() {
		return true
	}
	if e.registry.IsTrusted(name) {
		return true
	}
	// commands are never auto-moderated
	prefix := e.policy.CommandPrefix
	return prefix != "" && strings.HasPrefix(strings.TrimSpace(msg.Text), prefix)
}

// recordMessage updates chat stats for messages that bypass the detector.
func (e *Engine) recordMessage(name, text string, result *classify.Result, now time.Time) {
	rec := e.store.get(name)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.touchLocked(now)
	rec.messageCount++
	rec.pushRecentLocked(recentMessage(text, result, now), e.store.recentCap)
}

func recentMessage(text string, result *classify.Result, now time.Time) snapshot.RecentMessage {
	msg := snapshot.RecentMessage{Text: text, Ts: now}
	if result != nil {
		tox := result.Toxicity
		msg.Toxicity = &tox
		msg.Emotion = result.Emotion
	}
	return msg
}

// HandleRaid scores a raid event. The assessment only advises; no punishment
// is issued here.
func (e *Engine) HandleRaid(ctx context.Context, raider string, viewers uint) (raid.Assessment, error) {
	if core.NormalizeUsername(raider) == "" {
		return raid.Assessment{}, ErrEmptyUsername
	}
	out := e.raids.Assess(ctx, raider, viewers)
	outcome := "safe"
	if !out.Safe {
		outcome = "flagged"
	}
	e.metrics.raidsTotal.WithLabelValues(outcome).Inc()
	if !out.Safe {
		e.logger.Info("engine: raid flagged",
			"raider", out.Raider, "viewers", out.Viewers, "reasons", out.Reasons)
	}
	e.queuePersist()
	return out, nil
}

func (e *Engine) Trust(username string) trust.Result {
	res := e.registry.Trust(username)
	if res.Success {
		e.queuePersist()
	}
	return res
}

func (e *Engine) Untrust(username string) trust.Result {
	res := e.registry.Untrust(username)
	if res.Success {
		e.queuePersist()
	}
	return res
}

// Forgive resets a user's escalation state to clean. This is the only way
// out of the sticky top level.
func (e *Engine) Forgive(username string) trust.Result {
	name := core.NormalizeUsername(username)
	if name == "" {
		return trust.Result{Success: false, Message: "empty username"}
	}
	rec, ok := e.store.peek(name)
	if !ok {
		return trust.Result{Success: false, Message: name + " has no moderation record"}
	}

	rec.mu.Lock()
	hadLevel := rec.escalation.Level
	rec.escalation.Level = 0
	rec.escalation.ExpiresAt = nil
	rec.mu.Unlock()

	if hadLevel == 0 {
		return trust.Result{Success: false, Message: name + " is not escalated"}
	}
	e.logger.Info("engine: escalation forgiven", "user", name, "from_level", hadLevel)
	e.queuePersist()
	return trust.Result{Success: true, Message: name + " escalation reset"}
}

func snippet(text string) string {
	const maxLen = 64
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen]
}
