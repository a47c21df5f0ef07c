package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/you/streamwarden/internal/classify"
	"github.com/you/streamwarden/internal/config"
	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/httpapi"
	"github.com/you/streamwarden/internal/moderation"
	"github.com/you/streamwarden/internal/platform"
	"github.com/you/streamwarden/internal/snapshot"
	"github.com/you/streamwarden/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		channel         string
		policyFile      string
		wordsFile       string
		dbPath          string
		classifierURL   string
		httpAddr        string
		httpCorsOrigins string
		httpRateRPS     int
		httpRateBurst   int
		httpMetrics     bool
		httpAccessLog   bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&channel, "channel", "", "Channel this engine moderates")
	flag.StringVar(&policyFile, "policy", "", "Path to YAML policy file")
	flag.StringVar(&wordsFile, "words", "", "Path to banned word file (newline-delimited, watched for changes)")
	flag.StringVar(&dbPath, "sqlite", "warden.db", "Path to SQLite state file")
	flag.StringVar(&classifierURL, "classifier-url", "", "Sentiment classifier endpoint (empty disables)")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP API address (e.g., :8766)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateRPS, "http-rate-rps", 20, "Maximum HTTP requests per second per client")
	flag.IntVar(&httpRateBurst, "http-rate-burst", 40, "Burst size for HTTP rate limiter")
	flag.BoolVar(&httpMetrics, "http-metrics", true, "Expose Prometheus metrics endpoint")
	flag.BoolVar(&httpAccessLog, "http-access-log", true, "Log HTTP access records")
	flag.Parse()

	if versionFlag {
		fmt.Printf(
			"moderatord version: %s (commit %s, built %s)\n",
			version.Version,
			version.Commit,
			version.BuildTime,
		)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()
	if overrides["channel"] {
		cfg.Channel = strings.TrimSpace(channel)
	}
	if overrides["policy"] {
		cfg.PolicyFile = strings.TrimSpace(policyFile)
	}
	if overrides["words"] {
		cfg.WordsFile = strings.TrimSpace(wordsFile)
	}
	if overrides["sqlite"] {
		cfg.Snapshot.SQLitePath = strings.TrimSpace(dbPath)
	}
	if overrides["classifier-url"] {
		cfg.Classifier.URL = strings.TrimSpace(classifierURL)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-rps"] {
		cfg.HTTP.RateRPS = httpRateRPS
	}
	if overrides["http-rate-burst"] {
		cfg.HTTP.RateBurst = httpRateBurst
	}
	if overrides["http-metrics"] {
		cfg.HTTP.Metrics = httpMetrics
	}
	if overrides["http-access-log"] {
		cfg.HTTP.AccessLog = httpAccessLog
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	logger.Info("moderatord: starting", "version", version.Version, "config", string(cfg.RedactedJSON()))

	if cfg.Channel == "" {
		log.Fatal("moderatord: channel is required (-channel or WARDEN_CHANNEL)")
	}

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatalf("moderatord: load policy: %v", err)
	}

	gateway, err := snapshot.OpenSQLite(cfg.Snapshot.SQLitePath)
	if err != nil {
		log.Fatalf("moderatord: open sqlite: %v", err)
	}
	defer func() {
		if err := gateway.Close(); err != nil {
			log.Printf("moderatord: closing sqlite: %v", err)
		}
	}()
	if err := gateway.Ping(); err != nil {
		log.Fatalf("moderatord: ping sqlite: %v", err)
	}

	var classifier classify.Classifier = classify.Disabled
	if cfg.Classifier.URL != "" {
		classifier = classify.NewHTTPClassifier(classify.HTTPOptions{
			URL:     cfg.Classifier.URL,
			Timeout: cfg.ClassifierTimeout(),
			RPS:     cfg.Classifier.RPS,
			Burst:   cfg.Classifier.Burst,
		})
		logger.Info("moderatord: classifier enabled", "url", cfg.Classifier.URL)
	} else {
		logger.Info("moderatord: no classifier configured; toxicity rule disabled")
	}

	var platformClient platform.Client
	if cfg.Platform.APIURL != "" && cfg.Platform.ClientID != "" {
		token := func() string { return platform.NormalizeToken(cfg.Platform.Token) }
		if cfg.Platform.TokenFile != "" {
			loader := platform.NewFileTokenLoader(cfg.Platform.TokenFile)
			token = func() string {
				t, _, err := loader.Load()
				if err != nil {
					logger.Warn("moderatord: platform token load", "err", err)
					return ""
				}
				return t
			}
		}
		platformClient = platform.NewHelixClient(platform.HelixOptions{
			BaseURL:  cfg.Platform.APIURL,
			ClientID: cfg.Platform.ClientID,
			Token:    token,
		})
		logger.Info("moderatord: platform lookups enabled", "url", cfg.Platform.APIURL)
	} else {
		logger.Info("moderatord: no platform API configured; raid account-age checks disabled")
	}

	registry := prometheus.NewRegistry()

	// The API server is constructed after the engine but verdicts only flow
	// once messages do, so the indirection here is safe.
	var api *httpapi.Server

	eng, err := moderation.New(moderation.Options{
		Channel:         cfg.Channel,
		Policy:          policy,
		Classifier:      classifier,
		Gateway:         gateway,
		Platform:        platformClient,
		Logger:          logger,
		Registry:        registry,
		ClassifyTimeout: cfg.ClassifierTimeout(),
		PersistDebounce: cfg.FlushInterval(),
		Notify: func(v core.Verdict) {
			if api != nil {
				api.Broadcast(v)
			}
		},
	})
	if err != nil {
		log.Fatalf("moderatord: engine: %v", err)
	}

	if cfg.WordsFile != "" {
		count, err := eng.ReloadWords(cfg.WordsFile)
		if err != nil {
			log.Fatalf("moderatord: load words file: %v", err)
		}
		logger.Info("moderatord: banned words loaded", "path", cfg.WordsFile, "count", count)

		stop, err := eng.WatchWords(cfg.WordsFile)
		if err != nil {
			log.Fatalf("moderatord: watch words file: %v", err)
		}
		defer stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("moderatord: received %s, shutting down", sig)
		cancel()
	}()

	go eng.RunSweeper(ctx, cfg.SnapshotInterval())

	if cfg.HTTP.Addr != "" {
		build := httpapi.BuildInfo{Version: version.Version, Revision: version.Commit}
		if version.BuildTime != "" && version.BuildTime != "unknown" {
			if t, err := time.Parse(time.RFC3339, version.BuildTime); err == nil {
				build.BuiltAt = t
			}
		}
		api = httpapi.New(eng, httpapi.Options{
			Addr:        cfg.HTTP.Addr,
			Channel:     cfg.Channel,
			WordsFile:   cfg.WordsFile,
			CORSOrigins: cfg.HTTP.CORSOrigins,
			RateRPS:     cfg.HTTP.RateRPS,
			RateBurst:   cfg.HTTP.RateBurst,
			Metrics:     cfg.HTTP.Metrics,
			AccessLog:   cfg.HTTP.AccessLog,
			Build:       build,
			Logger:      logger,
			Registry:    registry,
		})
		go func() {
			if err := api.Start(); err != nil {
				log.Fatalf("moderatord: http api: %v", err)
			}
		}()
		logger.Info("moderatord: http api ready", "addr", cfg.HTTP.Addr)
	}

	<-ctx.Done()

	if api != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := api.Shutdown(shutdownCtx); err != nil {
			log.Printf("moderatord: http shutdown: %v", err)
		}
		shutdownCancel()
	}

	// final snapshot before the sqlite handle closes
	eng.Close()
	logger.Info("moderatord: shut down cleanly")
}
