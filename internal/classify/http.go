package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var (
	ErrUnavailable = errors.New("classify: service unavailable")
	ErrBadResponse = errors.New("classify: malformed response")
)

// HTTPClassifier calls a JSON classification endpoint with a bounded timeout
// and a client-side rate limit. Responses outside the documented ranges are
// rejected rather than passed through to policy logic.
type HTTPClassifier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

type HTTPOptions struct {
	URL     string
	Timeout time.Duration
	RPS     int
	Burst   int
}

func NewHTTPClassifier(opts HTTPOptions) *HTTPClassifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	var limiter *rate.Limiter
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = opts.RPS
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return &HTTPClassifier{
		url:     opts.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type classifyRequest struct {
	Text     string `json:"text"`
	Username string `json:"username"`
}

type classifyResponse struct {
	Sentiment *float64 `json:"sentiment"`
	Toxicity  *float64 `json:"toxicity"`
	Emotion   string   `json:"emotion"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text, username string) (*Result, error) {
	if c.limiter != nil && !c.limiter.Allow() {
		return nil, errors.Wrap(ErrUnavailable, "rate limited")
	}

	body, err := json.Marshal(classifyRequest{Text: text, Username: username})
	if err != nil {
		return nil, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUnavailable, "status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, "read body")
	}
	return decodeResult(raw)
}

// decodeResult is the strict boundary: out-of-range or absent scores become a
// typed error, never a half-parsed Result.
func decodeResult(raw []byte) (*Result, error) {
	var payload classifyResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		return nil, errors.Wrap(ErrBadResponse, err.Error())
	}
	if payload.Sentiment == nil && payload.Toxicity == nil {
		return nil, errors.Wrap(ErrBadResponse, "no score")
	}
	res := &Result{Emotion: payload.Emotion, Ts: time.Now().UTC()}
	if payload.Sentiment != nil {
		if *payload.Sentiment < -1 || *payload.Sentiment > 1 {
			return nil, errors.Wrap(ErrBadResponse, "sentiment out of range")
		}
		res.Sentiment = *payload.Sentiment
	}
	if payload.Toxicity != nil {
		if *payload.Toxicity < 0 || *payload.Toxicity > 1 {
			return nil, errors.Wrap(ErrBadResponse, "toxicity out of range")
		}
		res.Toxicity = *payload.Toxicity
	} else {
		// Sentiment-only services: fold an extreme negative sentiment into
		// an equivalent toxicity score.
		if res.Sentiment < 0 {
			res.Toxicity = -res.Sentiment
		}
	}
	return res, nil
}
