// Package trust is the exemption registry: usernames here are never scored
// by the violation detector and their raids are always considered safe.
package trust

import (
	"fmt"
	"sort"
	"sync"

	"github.com/you/streamwarden/internal/core"
)

// Result reports the outcome of a registry mutation. Success is false for
// no-op mutations (already trusted, not trusted), which is not an error.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	users map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]struct{})}
}

func (r *Registry) Trust(username string) Result {
	name := core.NormalizeUsername(username)
	if name == "" {
		return Result{Success: false, Message: "empty username"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[name]; ok {
		return Result{Success: false, Message: fmt.Sprintf("%s is already trusted", name)}
	}
	r.users[name] = struct{}{}
	return Result{Success: true, Message: fmt.Sprintf("%s is now trusted", name)}
}

func (r *Registry) Untrust(username string) Result {
	name := core.NormalizeUsername(username)
	if name == "" {
		return Result{Success: false, Message: "empty username"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[name]; !ok {
		return Result{Success: false, Message: fmt.Sprintf("%s is not trusted", name)}
	}
	delete(r.users, name)
	return Result{Success: true, Message: fmt.Sprintf("%s is no longer trusted", name)}
}

func (r *Registry) IsTrusted(username string) bool {
	name := core.NormalizeUsername(username)
	if name == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[name]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// List returns the trusted usernames sorted, for snapshots and reporting.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.users))
	for name := range r.users {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Restore replaces the registry contents with a persisted list.
func (r *Registry) Restore(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = make(map[string]struct{}, len(names))
	for _, raw := range names {
		if name := core.NormalizeUsername(raw); name != "" {
			r.users[name] = struct{}{}
		}
	}
}
