package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Policy holds the moderation tunables. Every threshold the engine compares
// against lives here rather than in code; the zero value is unusable, start
// from DefaultPolicy.
type Policy struct {
	CommandPrefix string `yaml:"command_prefix"`

	Similarity struct {
		Threshold float64 `yaml:"threshold"`
		Window    int     `yaml:"window"`
	} `yaml:"similarity"`

	ToxicityThreshold float64 `yaml:"toxicity_threshold"`

	Raid struct {
		Ratio          float64 `yaml:"ratio"`
		Window         int     `yaml:"window"`
		History        int     `yaml:"history"`
		BigRaidViewers int     `yaml:"big_raid_viewers"`
		NewAccountDays int     `yaml:"new_account_days"`
		MaxPerRaiderIn int     `yaml:"max_per_raider_in_24h"`
	} `yaml:"raid"`

	Pattern struct {
		HitBoost    float64 `yaml:"hit_boost"`
		DecayStep   float64 `yaml:"decay_step"`
		Floor       float64 `yaml:"floor"`
		Cap         float64 `yaml:"cap"`
		DecayAfterS int     `yaml:"decay_after_s"`
	} `yaml:"pattern"`

	// Extra regex signatures merged into the builtin pattern table.
	ExtraPatterns []PatternDef `yaml:"extra_patterns"`

	Escalation []LadderStep `yaml:"escalation"`

	RecentMessages int `yaml:"recent_messages"`

	BannedWords  []string `yaml:"banned_words"`
	Shadowbanned []string `yaml:"shadowbanned"`
}

type PatternDef struct {
	ID    string `yaml:"id"`
	Regex string `yaml:"regex"`
}

type LadderStep struct {
	Level     int    `yaml:"level"`
	DurationS int    `yaml:"duration_s"`
	Action    string `yaml:"action"`
}

func (s LadderStep) Duration() time.Duration {
	if s.DurationS <= 0 {
		return 0
	}
	return time.Duration(s.DurationS) * time.Second
}

// DefaultPolicy carries the stock thresholds. A policy file overrides fields
// it sets and inherits the rest.
func DefaultPolicy() Policy {
	p := Policy{CommandPrefix: "!"}
	p.Similarity.Threshold = 0.8
	p.Similarity.Window = 5
	p.ToxicityThreshold = 0.8
	p.Raid.Ratio = 10
	p.Raid.Window = 10
	p.Raid.History = 100
	p.Raid.BigRaidViewers = 1000
	p.Raid.NewAccountDays = 7
	p.Raid.MaxPerRaiderIn = 2
	p.Pattern.HitBoost = 0.1
	p.Pattern.DecayStep = 0.2
	p.Pattern.Floor = 0.5
	p.Pattern.Cap = 1.0
	p.Pattern.DecayAfterS = 3600
	p.Escalation = []LadderStep{
		{Level: 1, DurationS: 300, Action: "warning"},
		{Level: 2, DurationS: 900, Action: "timeout"},
		{Level: 3, DurationS: 3600, Action: "timeout"},
		{Level: 4, DurationS: 86400, Action: "timeout"},
		{Level: 5, DurationS: 0, Action: "ban"},
	}
	p.RecentMessages = 100
	return p
}

// LoadPolicy reads a YAML policy file over the defaults. An empty path
// returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrap(err, "read policy file")
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, errors.Wrap(err, "decode policy file")
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	if p.Similarity.Threshold <= 0 || p.Similarity.Threshold > 1 {
		return errors.New("policy: similarity threshold must be in (0,1]")
	}
	if p.Similarity.Window <= 0 {
		return errors.New("policy: similarity window must be positive")
	}
	if p.ToxicityThreshold <= 0 || p.ToxicityThreshold > 1 {
		return errors.New("policy: toxicity threshold must be in (0,1]")
	}
	if p.Pattern.Floor > p.Pattern.Cap {
		return errors.New("policy: pattern floor exceeds cap")
	}
	if len(p.Escalation) == 0 {
		return errors.New("policy: escalation ladder empty")
	}
	seen := make(map[int]struct{}, len(p.Escalation))
	for _, step := range p.Escalation {
		if step.Level <= 0 {
			return errors.New("policy: escalation levels start at 1")
		}
		if _, dup := seen[step.Level]; dup {
			return errors.Errorf("policy: duplicate escalation level %d", step.Level)
		}
		seen[step.Level] = struct{}{}
		switch step.Action {
		case "warning", "timeout", "ban":
		default:
			return errors.Errorf("policy: unknown action %q at level %d", step.Action, step.Level)
		}
	}
	return nil
}

// MaxLevel is the top (sticky) escalation level of the configured ladder.
func (p Policy) MaxLevel() int {
	max := 0
	for _, step := range p.Escalation {
		if step.Level > max {
			max = step.Level
		}
	}
	return max
}

// Step returns the ladder entry for a level. Unknown levels fall back to the
// zero step so a bad lookup stays fail-open instead of panicking.
func (p Policy) Step(level int) (LadderStep, bool) {
	for _, step := range p.Escalation {
		if step.Level == level {
			return step, true
		}
	}
	return LadderStep{}, false
}
