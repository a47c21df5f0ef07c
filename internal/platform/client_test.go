package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeToken(t *testing.T) {
	cases := []struct{ in, want string }{
		{"oauth:abc123", "abc123"},
		{"  abc123\n", "abc123"},
		{"", ""},
		{"  oauth:xyz  ", "xyz"},
	}
	for _, tc := range cases {
		if got := NormalizeToken(tc.in); got != tc.want {
			t.Fatalf("NormalizeToken(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFileTokenLoader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("oauth:first\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	l := NewFileTokenLoader(path)
	tok, changed, err := l.Load()
	if err != nil || !changed || tok != "first" {
		t.Fatalf("first load = (%q, %v, %v)", tok, changed, err)
	}

	// unchanged content is reported as not-changed
	tok, changed, err = l.Load()
	if err != nil || changed || tok != "first" {
		t.Fatalf("second load = (%q, %v, %v)", tok, changed, err)
	}

	if err := os.WriteFile(path, []byte("second"), 0o600); err != nil {
		t.Fatal(err)
	}
	tok, changed, err = l.Load()
	if err != nil || !changed || tok != "second" {
		t.Fatalf("after rotation = (%q, %v, %v)", tok, changed, err)
	}

	if err := os.WriteFile(path, []byte("   "), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := l.Load(); err != ErrEmptyToken {
		t.Fatalf("expected ErrEmptyToken, got %v", err)
	}
}

func TestHelixAccountAgeDays(t *testing.T) {
	created := time.Now().Add(-10 * 24 * time.Hour).UTC().Format(time.RFC3339)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Client-Id"); got != "cid" {
			t.Errorf("Client-Id = %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.URL.Query().Get("login"); got != "newbie" {
			t.Errorf("login = %q", got)
		}
		fmt.Fprintf(w, `{"data":[{"login":"newbie","created_at":%q}]}`, created)
	}))
	defer srv.Close()

	c := NewHelixClient(HelixOptions{
		BaseURL:  srv.URL,
		ClientID: "cid",
		Token:    func() string { return "tok" },
	})
	days, err := c.AccountAgeDays(context.Background(), "@Newbie")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if days != 10 {
		t.Fatalf("days = %d, want 10", days)
	}
}

func TestHelixUnknownUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	}))
	defer srv.Close()

	c := NewHelixClient(HelixOptions{BaseURL: srv.URL})
	if _, err := c.AccountAgeDays(context.Background(), "nobody"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}
