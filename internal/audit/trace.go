package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// Stage marks a point a message reached inside the moderation pipeline.
type Stage string

const (
	StageSeen       Stage = "seen"
	StageExempt     Stage = "exempt"
	StageClassified Stage = "classified"
	StageClean      Stage = "clean"
	StageViolation  Stage = "violation"
	StageEscalated  Stage = "escalated"
	StagePersisted  Stage = "persist_queued"

	StageSkippedPrefix = "skipped_"
)

// StageSkipped tags a rule that was skipped with the reason.
func StageSkipped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageSkippedPrefix, reason))
}

// DecisionTrace records how a single message moved through the engine, for
// structured audit logging. Safe for concurrent use.
type DecisionTrace struct {
	Channel string
	User    string
	Snippet string
	TraceID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// NewDecisionTrace seeds the trace with the seen counter. The trace ID is
// deterministic for identical inputs so replays correlate.
func NewDecisionTrace(channel, user, snippet string) *DecisionTrace {
	t := &DecisionTrace{
		Channel:  channel,
		User:     user,
		Snippet:  snippet,
		TraceID:  computeTraceID(channel, user, snippet),
		counters: make(map[Stage]int64),
	}
	t.counters[StageSeen] = 1
	return t
}

// Mark increments the counter for a stage and returns the updated value.
func (t *DecisionTrace) Mark(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[stage]++
	return t.counters[stage]
}

// Log emits the trace metadata and counters as one structured record.
func (t *DecisionTrace) Log(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(msg,
		"trace_id", t.TraceID,
		"channel", t.Channel,
		"user", t.User,
		"snippet", t.Snippet,
		"stages", t.snapshotCounters(),
	)
}

func (t *DecisionTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}

func computeTraceID(channel, user, snippet string) string {
	digest := sha256.Sum256([]byte(channel + "\x1f" + user + "\x1f" + snippet))
	return hex.EncodeToString(digest[:])
}
