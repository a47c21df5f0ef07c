// Package wordlist maintains the banned word/phrase list and the shadowban
// set. The banned list is reloadable from a newline-delimited file while the
// process runs.
package wordlist

import (
	"bufio"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/you/streamwarden/internal/core"
)

// List is safe for concurrent use.
type List struct {
	mu     sync.RWMutex
	banned []string
	shadow map[string]struct{}
}

func NewList(banned []string, shadowbanned []string) *List {
	l := &List{shadow: make(map[string]struct{})}
	l.SetBanned(banned)
	for _, raw := range shadowbanned {
		if name := core.NormalizeUsername(raw); name != "" {
			l.shadow[name] = struct{}{}
		}
	}
	return l
}

// MatchBanned returns the first banned word/phrase contained in the text,
// case-insensitively.
func (l *List) MatchBanned(text string) (string, bool) {
	lowered := strings.ToLower(text)
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, w := range l.banned {
		if strings.Contains(lowered, w) {
			return w, true
		}
	}
	return "", false
}

func (l *List) IsShadowbanned(username string) bool {
	name := core.NormalizeUsername(username)
	if name == "" {
		return false
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.shadow[name]
	return ok
}

func (l *List) Shadowban(username string) bool {
	name := core.NormalizeUsername(username)
	if name == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.shadow[name]; ok {
		return false
	}
	l.shadow[name] = struct{}{}
	return true
}

func (l *List) Unshadowban(username string) bool {
	name := core.NormalizeUsername(username)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.shadow[name]; !ok {
		return false
	}
	delete(l.shadow, name)
	return true
}

// SetBanned replaces the banned list. Entries are lowered, trimmed, deduped,
// and sorted so matching order is deterministic.
func (l *List) SetBanned(words []string) {
	cleaned := make([]string, 0, len(words))
	seen := make(map[string]struct{}, len(words))
	for _, raw := range words {
		w := strings.ToLower(strings.TrimSpace(raw))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		cleaned = append(cleaned, w)
	}
	sort.Strings(cleaned)

	l.mu.Lock()
	l.banned = cleaned
	l.mu.Unlock()
}

func (l *List) Banned() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.banned...)
}

func (l *List) Shadowbanned() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.shadow))
	for name := range l.shadow {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SetShadowbanned replaces the shadowban set, for snapshot restore.
func (l *List) SetShadowbanned(names []string) {
	shadow := make(map[string]struct{}, len(names))
	for _, raw := range names {
		if name := core.NormalizeUsername(raw); name != "" {
			shadow[name] = struct{}{}
		}
	}
	l.mu.Lock()
	l.shadow = shadow
	l.mu.Unlock()
}

// LoadFile replaces the banned list with the contents of a newline-delimited
// file. Blank lines and lines starting with # are skipped.
func (l *List) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open word list")
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read word list")
	}
	l.SetBanned(words)
	return nil
}
