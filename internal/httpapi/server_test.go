package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/moderation"
	"github.com/you/streamwarden/internal/raid"
	"github.com/you/streamwarden/internal/trust"
)

type fakeModerator struct {
	trusted map[string]bool
	checked []core.ChatMessage
}

func newFakeModerator() *fakeModerator {
	return &fakeModerator{trusted: make(map[string]bool)}
}

func (f *fakeModerator) Check(_ context.Context, msg core.ChatMessage) (moderation.CheckResult, error) {
	f.checked = append(f.checked, msg)
	name := core.NormalizeUsername(msg.Username)
	if name == "" {
		return moderation.CheckResult{}, moderation.ErrEmptyUsername
	}
	out := moderation.CheckResult{Username: name}
	if strings.Contains(msg.Text, "badword") {
		out.Violations = []string{"contains banned word/phrase"}
		out.WouldAction = core.ActionWarn
		out.WouldDuration = 5 * time.Minute
		out.WouldLevel = 1
	}
	return out, nil
}

func (f *fakeModerator) GetModerationStats() moderation.Stats {
	return moderation.Stats{WarningsTotal: 3, TrustedCount: len(f.trusted), ActiveEscalations: 1}
}

func (f *fakeModerator) GetUserHistory(username string) (moderation.UserHistory, error) {
	name := core.NormalizeUsername(username)
	if name == "" {
		return moderation.UserHistory{}, moderation.ErrEmptyUsername
	}
	return moderation.UserHistory{Username: name, MessageCount: 7, Level: 2}, nil
}

func (f *fakeModerator) ActiveEscalations() []moderation.ActiveEscalation {
	return []moderation.ActiveEscalation{
		{Username: "alpha", Level: 1},
		{Username: "bravo", Level: 3},
	}
}

func (f *fakeModerator) Trust(username string) trust.Result {
	name := core.NormalizeUsername(username)
	if f.trusted[name] {
		return trust.Result{Success: false, Message: name + " already trusted"}
	}
	f.trusted[name] = true
	return trust.Result{Success: true, Message: name + " trusted"}
}

func (f *fakeModerator) Untrust(username string) trust.Result {
	name := core.NormalizeUsername(username)
	if !f.trusted[name] {
		return trust.Result{Success: false, Message: name + " not trusted"}
	}
	delete(f.trusted, name)
	return trust.Result{Success: true, Message: name + " untrusted"}
}

func (f *fakeModerator) Forgive(username string) trust.Result {
	return trust.Result{Success: true, Message: username + " escalation reset"}
}

func (f *fakeModerator) HandleRaid(_ context.Context, raider string, viewers uint) (raid.Assessment, error) {
	if core.NormalizeUsername(raider) == "" {
		return raid.Assessment{}, moderation.ErrEmptyUsername
	}
	return raid.Assessment{Raider: raider, Viewers: viewers, Safe: viewers < 1000}, nil
}

func (f *fakeModerator) ReloadWords(string) (int, error) {
	return 42, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, *fakeModerator) {
	t.Helper()
	fake := newFakeModerator()
	return New(fake, opts), fake
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestStatsEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	w := do(t, srv, http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats moderation.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.WarningsTotal != 3 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestUserEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	w := do(t, srv, http.MethodGet, "/user?name=SomeUser", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var hist moderation.UserHistory
	if err := json.Unmarshal(w.Body.Bytes(), &hist); err != nil {
		t.Fatal(err)
	}
	if hist.Username != "someuser" || hist.Level != 2 {
		t.Fatalf("history = %+v", hist)
	}

	if w := do(t, srv, http.MethodGet, "/user", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing name: status = %d", w.Code)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv, fake := newTestServer(t, Options{Channel: "testchannel"})

	w := do(t, srv, http.MethodPost, "/check", `{"username":"Spammer","text":"badword"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}
	var out moderation.CheckResult
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.WouldLevel != 1 || len(out.Violations) != 1 {
		t.Fatalf("check result = %+v", out)
	}
	if len(fake.checked) != 1 || fake.checked[0].Channel != "testchannel" {
		t.Fatalf("checked = %+v", fake.checked)
	}

	if w := do(t, srv, http.MethodGet, "/check", ""); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /check: status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/check", "{bad json"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status = %d", w.Code)
	}
}

func TestTrustConflict(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	if w := do(t, srv, http.MethodPost, "/trust", `{"username":"friend"}`); w.Code != http.StatusOK {
		t.Fatalf("first trust: status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/trust", `{"username":"friend"}`); w.Code != http.StatusConflict {
		t.Fatalf("second trust: status = %d", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/untrust", `{"username":"friend"}`); w.Code != http.StatusOK {
		t.Fatalf("untrust: status = %d", w.Code)
	}
}

func TestEscalationsFiltering(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	w := do(t, srv, http.MethodGet, "/escalations?min_level=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var rows []moderation.ActiveEscalation
	if err := json.Unmarshal(w.Body.Bytes(), &rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Username != "bravo" {
		t.Fatalf("rows = %+v", rows)
	}

	if w := do(t, srv, http.MethodGet, "/escalations?min_level=banana", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad min_level: status = %d", w.Code)
	}
}

func TestRaidEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	w := do(t, srv, http.MethodPost, "/raid", `{"raider":"bigstreamer","viewers":1500}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var out raid.Assessment
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Safe {
		t.Fatalf("assessment = %+v", out)
	}
}

func TestReloadWords(t *testing.T) {
	srv, _ := newTestServer(t, Options{WordsFile: "/tmp/words.txt"})
	if w := do(t, srv, http.MethodPost, "/admin/reload-words", ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	bare, _ := newTestServer(t, Options{})
	if w := do(t, bare, http.MethodPost, "/admin/reload-words", ""); w.Code != http.StatusConflict {
		t.Fatalf("no words file: status = %d", w.Code)
	}
}

func TestRateLimiting(t *testing.T) {
	srv, _ := newTestServer(t, Options{RateRPS: 1, RateBurst: 2})

	limited := false
	for i := 0; i < 10; i++ {
		if w := do(t, srv, http.MethodGet, "/healthz", ""); w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("rate limiter never fired")
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, Options{CORSOrigins: []string{"https://dash.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/stats", nil)
	req.Header.Set("Origin", "https://dash.example")
	w := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Fatalf("allow-origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/stats", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("disallowed origin status = %d", w.Code)
	}
}

func TestBroadcastRespectsFilters(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	sub, err := srv.subscribe(Filters{MinLevel: 3})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.unsubscribe(sub)

	srv.Broadcast(core.Verdict{Username: "minor", Level: 1, Action: core.ActionWarn})
	srv.Broadcast(core.Verdict{Username: "major", Level: 4, Action: core.ActionTimeout})

	select {
	case v := <-sub.ch:
		if v.Username != "major" {
			t.Fatalf("got %+v", v)
		}
	default:
		t.Fatal("filtered broadcast not delivered")
	}
	select {
	case v := <-sub.ch:
		t.Fatalf("unexpected extra verdict %+v", v)
	default:
	}
}
