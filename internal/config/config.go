package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Channel    string
	PolicyFile string
	WordsFile  string
	Snapshot   SnapshotConfig
	Classifier ClassifierConfig
	Platform   PlatformConfig
	HTTP       HTTPConfig
}

type SnapshotConfig struct {
	SQLitePath string
	FlushMaxMS int
	IntervalS  int
}

type ClassifierConfig struct {
	URL       string
	TimeoutMS int
	RPS       int
	Burst     int
}

type PlatformConfig struct {
	APIURL    string
	ClientID  string
	Token     string
	TokenFile string
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateRPS     int
	RateBurst   int
	Metrics     bool
	AccessLog   bool
}

const (
	defaultSQLitePath      = "warden.db"
	defaultFlushMS         = 2000
	defaultSnapshotS       = 300
	defaultClassifierMS    = 1500
	defaultClassifierRPS   = 10
	defaultClassifierBurst = 20
	defaultHTTPRateRPS     = 20
	defaultHTTPRateBurst   = 40
)

func Load() Config {
	cfg := Config{}

	cfg.Channel = strings.TrimSpace(os.Getenv("WARDEN_CHANNEL"))
	cfg.PolicyFile = strings.TrimSpace(os.Getenv("WARDEN_POLICY_FILE"))
	cfg.WordsFile = strings.TrimSpace(os.Getenv("WARDEN_WORDS_FILE"))

	cfg.Snapshot.SQLitePath = strings.TrimSpace(os.Getenv("WARDEN_SQLITE_PATH"))
	if cfg.Snapshot.SQLitePath == "" {
		cfg.Snapshot.SQLitePath = defaultSQLitePath
	}
	cfg.Snapshot.FlushMaxMS = readInt("WARDEN_SNAPSHOT_FLUSH_MAX_MS", defaultFlushMS)
	cfg.Snapshot.IntervalS = readInt("WARDEN_SNAPSHOT_INTERVAL_S", defaultSnapshotS)

	cfg.Classifier.URL = strings.TrimSpace(os.Getenv("WARDEN_CLASSIFIER_URL"))
	cfg.Classifier.TimeoutMS = readInt("WARDEN_CLASSIFIER_TIMEOUT_MS", defaultClassifierMS)
	cfg.Classifier.RPS = readInt("WARDEN_CLASSIFIER_RPS", defaultClassifierRPS)
	cfg.Classifier.Burst = readInt("WARDEN_CLASSIFIER_BURST", defaultClassifierBurst)

	cfg.Platform.APIURL = strings.TrimSpace(os.Getenv("WARDEN_PLATFORM_API_URL"))
	cfg.Platform.ClientID = strings.TrimSpace(os.Getenv("WARDEN_PLATFORM_CLIENT_ID"))
	cfg.Platform.Token = strings.TrimSpace(os.Getenv("WARDEN_PLATFORM_TOKEN"))
	cfg.Platform.TokenFile = strings.TrimSpace(os.Getenv("WARDEN_PLATFORM_TOKEN_FILE"))

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("WARDEN_HTTP_ADDR"))
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("WARDEN_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateRPS = readInt("WARDEN_HTTP_RATE_RPS", defaultHTTPRateRPS)
	cfg.HTTP.RateBurst = readInt("WARDEN_HTTP_RATE_BURST", defaultHTTPRateBurst)
	cfg.HTTP.Metrics = readBool("WARDEN_HTTP_METRICS", true)
	cfg.HTTP.AccessLog = readBool("WARDEN_HTTP_ACCESS_LOG", true)

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n <= 0 {
		return def
	}
	return n
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func (c Config) FlushInterval() time.Duration {
	if c.Snapshot.FlushMaxMS <= 0 {
		return 0
	}
	return time.Duration(c.Snapshot.FlushMaxMS) * time.Millisecond
}

func (c Config) SnapshotInterval() time.Duration {
	if c.Snapshot.IntervalS <= 0 {
		return 0
	}
	return time.Duration(c.Snapshot.IntervalS) * time.Second
}

func (c Config) ClassifierTimeout() time.Duration {
	if c.Classifier.TimeoutMS <= 0 {
		return time.Duration(defaultClassifierMS) * time.Millisecond
	}
	return time.Duration(c.Classifier.TimeoutMS) * time.Millisecond
}

func (c Config) Redacted() map[string]any {
	return map[string]any{
		"channel":     c.Channel,
		"policy_file": c.PolicyFile,
		"words_file":  c.WordsFile,
		"snapshot": map[string]any{
			"sqlite_path": c.Snapshot.SQLitePath,
			"flush_ms":    c.Snapshot.FlushMaxMS,
			"interval_s":  c.Snapshot.IntervalS,
		},
		"classifier": map[string]any{
			"url":        c.Classifier.URL,
			"timeout_ms": c.Classifier.TimeoutMS,
			"rps":        c.Classifier.RPS,
			"burst":      c.Classifier.Burst,
		},
		"platform": map[string]any{
			"api_url":    c.Platform.APIURL,
			"client_id":  redactString(c.Platform.ClientID),
			"token":      redactString(c.Platform.Token),
			"token_file": c.Platform.TokenFile,
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_rps":     c.HTTP.RateRPS,
			"rate_burst":   c.HTTP.RateBurst,
			"metrics":      c.HTTP.Metrics,
			"access_log":   c.HTTP.AccessLog,
		},
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}
