package httpapi

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/moderation"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Filters captures the parsed query parameters for escalation lookups and
// verdict feeds.
type Filters struct {
	Usernames []string
	Actions   []core.Action
	MinLevel  int
	Limit     int
}

// ParseFilters parses query parameters into a Filters struct.
func ParseFilters(values url.Values) (Filters, error) {
	f := Filters{Limit: defaultLimit}

	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Filters{}, errors.New("limit must be a positive integer")
		}
		if n > maxLimit {
			n = maxLimit
		}
		f.Limit = n
	}

	if raw := values.Get("min_level"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Filters{}, errors.New("min_level must be a non-negative integer")
		}
		f.MinLevel = n
	}

	if actions := values["action"]; len(actions) > 0 {
		seen := make(map[core.Action]struct{})
		for _, raw := range actions {
			for _, part := range strings.Split(raw, ",") {
				part = strings.TrimSpace(strings.ToLower(part))
				if part == "" {
					continue
				}
				action, ok := normalizeAction(part)
				if !ok {
					return Filters{}, errors.New("invalid action filter")
				}
				if _, exists := seen[action]; !exists {
					f.Actions = append(f.Actions, action)
					seen[action] = struct{}{}
				}
			}
		}
	}

	if usernames := values["username"]; len(usernames) > 0 {
		seen := make(map[string]struct{})
		for _, raw := range usernames {
			for _, part := range strings.Split(raw, ",") {
				name := core.NormalizeUsername(part)
				if name == "" {
					continue
				}
				if _, exists := seen[name]; !exists {
					f.Usernames = append(f.Usernames, name)
					seen[name] = struct{}{}
				}
			}
		}
	}

	return f, nil
}

// FiltersFromRequest parses filters from an HTTP request.
func FiltersFromRequest(r *http.Request) (Filters, error) {
	return ParseFilters(r.URL.Query())
}

func normalizeAction(raw string) (core.Action, bool) {
	switch raw {
	case "warning", "warn", "w":
		return core.ActionWarn, true
	case "timeout", "to", "t":
		return core.ActionTimeout, true
	case "ban", "b":
		return core.ActionBan, true
	default:
		return "", false
	}
}

// MatchesVerdict reports whether a verdict satisfies the filters.
func (f Filters) MatchesVerdict(v core.Verdict) bool {
	if len(f.Usernames) > 0 && !f.matchesUsername(v.Username) {
		return false
	}
	if v.Level < f.MinLevel {
		return false
	}
	if len(f.Actions) > 0 {
		match := false
		for _, a := range f.Actions {
			if v.Action == a {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	return true
}

// MatchesEscalation reports whether an active escalation satisfies the filters.
func (f Filters) MatchesEscalation(row moderation.ActiveEscalation) bool {
	if len(f.Usernames) > 0 && !f.matchesUsername(row.Username) {
		return false
	}
	return row.Level >= f.MinLevel
}

func (f Filters) matchesUsername(name string) bool {
	name = strings.ToLower(name)
	for _, u := range f.Usernames {
		if strings.Contains(name, u) {
			return true
		}
	}
	return false
}
