// Package classify is the boundary to the external message-classification
// service. The engine only depends on the Classifier contract; a failed or
// slow classification degrades to "no result" and never blocks moderation.
package classify

import (
	"context"
	"time"
)

// Result is the strictly-decoded classifier output. Sentiment is in [-1,1],
// Toxicity in [0,1].
type Result struct {
	Sentiment float64 `json:"sentiment"`
	Toxicity  float64 `json:"toxicity"`
	Emotion   string  `json:"emotion"`
	Ts        time.Time
}

type Classifier interface {
	Classify(ctx context.Context, text, username string) (*Result, error)
}

// Func adapts a plain function into a Classifier. Used by tests and by the
// devmod harness.
type Func func(ctx context.Context, text, username string) (*Result, error)

func (f Func) Classify(ctx context.Context, text, username string) (*Result, error) {
	return f(ctx, text, username)
}

// Disabled is a Classifier that always reports "no result", for running
// without a classifier endpoint configured.
var Disabled = Func(func(context.Context, string, string) (*Result, error) {
	return nil, ErrUnavailable
})
