package core

import (
	"strings"
	"time"
)

// ChatMessage is the unified structure fed into the moderation engine.
type ChatMessage struct {
	ID       string    // platform-native message ID (or composed)
	Ts       time.Time // message timestamp
	Username string
	Channel  string
	Text     string
	Role     Role
}

// Role is the sender's chat role as reported by the platform.
type Role string

const (
	RoleEveryone    Role = "everyone"
	RoleVIP         Role = "vip"
	RoleModerator   Role = "mod"
	RoleBroadcaster Role = "broadcaster"
)

// Exempt reports whether the role bypasses moderation entirely.
func (r Role) Exempt() bool {
	switch r {
	case RoleModerator, RoleVIP, RoleBroadcaster:
		return true
	}
	return false
}

// Action is what the dispatch layer should do about a message.
type Action string

const (
	ActionWarn    Action = "warning"
	ActionTimeout Action = "timeout"
	ActionBan     Action = "ban"
)

// Verdict is the engine's decision for one violating message. A nil verdict
// means the message passed clean (or the sender is exempt).
type Verdict struct {
	Username string        `json:"username"`
	Action   Action        `json:"action"`
	Duration time.Duration `json:"duration"`
	Level    int           `json:"level"`
	Reason   string        `json:"reason"`
	Ts       time.Time     `json:"ts"`
}

// NormalizeUsername strips a leading @, trims whitespace, and lower-cases so
// "@Foo ", "foo", and "FOO" are the same identity everywhere in this module.
func NormalizeUsername(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "@")
	return strings.ToLower(strings.TrimSpace(name))
}
