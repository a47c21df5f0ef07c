// Package platform is the boundary to the streaming-platform API. The
// moderation core only ever asks it how old an account is; lookups that fail
// degrade to "established account" so a broken platform API can never
// generate false-positive raid flags.
package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/you/streamwarden/internal/core"
)

// Client is the collaborator contract consumed by the raid assessor.
type Client interface {
	AccountAgeDays(ctx context.Context, username string) (uint, error)
}

// ClientFunc adapts a function into a Client, for tests.
type ClientFunc func(ctx context.Context, username string) (uint, error)

func (f ClientFunc) AccountAgeDays(ctx context.Context, username string) (uint, error) {
	return f(ctx, username)
}

// HelixClient looks up account creation dates via a Helix-style users
// endpoint (GET {base}/users?login=<name> with Client-Id and Bearer auth).
type HelixClient struct {
	base     string
	clientID string
	token    func() string
	client   *http.Client
}

type HelixOptions struct {
	BaseURL  string
	ClientID string
	// Token returns the current bearer token; hook a FileTokenLoader here
	// when the token rotates on disk.
	Token   func() string
	Timeout time.Duration
}

func NewHelixClient(opts HelixOptions) *HelixClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	token := opts.Token
	if token == nil {
		token = func() string { return "" }
	}
	return &HelixClient{
		base:     opts.BaseURL,
		clientID: opts.ClientID,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}
}

type usersResponse struct {
	Data []struct {
		Login     string    `json:"login"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"data"`
}

func (c *HelixClient) AccountAgeDays(ctx context.Context, username string) (uint, error) {
	name := core.NormalizeUsername(username)
	if name == "" {
		return 0, errors.New("platform: empty username")
	}

	endpoint := fmt.Sprintf("%s/users?login=%s", c.base, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, errors.Wrap(err, "build request")
	}
	if c.clientID != "" {
		req.Header.Set("Client-Id", c.clientID)
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "users lookup")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("users lookup: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, errors.Wrap(err, "read body")
	}
	var payload usersResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, errors.Wrap(err, "decode users response")
	}
	if len(payload.Data) == 0 {
		return 0, errors.Errorf("users lookup: no such user %q", name)
	}

	age := time.Since(payload.Data[0].CreatedAt)
	if age < 0 {
		age = 0
	}
	return uint(age.Hours() / 24), nil
}
