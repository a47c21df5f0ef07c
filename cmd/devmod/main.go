// devmod is a local harness for poking the moderation engine without a live
// chat feed: post messages and raids, read back verdicts and stats.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/you/streamwarden/internal/config"
	"github.com/you/streamwarden/internal/core"
	"github.com/you/streamwarden/internal/moderation"
	"github.com/you/streamwarden/internal/snapshot"
)

type messageReq struct {
	Username string    `json:"username"`
	Text     string    `json:"text"`
	Role     string    `json:"role,omitempty"`
	Ts       time.Time `json:"ts,omitempty"`
}

type raidReq struct {
	Raider  string `json:"raider"`
	Viewers uint   `json:"viewers"`
}

func main() {
	var (
		addr       string
		dbPath     string
		policyFile string
		channel    string
	)

	flag.StringVar(&addr, "addr", ":8766", "HTTP listen address")
	flag.StringVar(&dbPath, "db", "devmod.db", "SQLite state path")
	flag.StringVar(&policyFile, "policy", "", "YAML policy file (empty for defaults)")
	flag.StringVar(&channel, "channel", "devchannel", "Channel name")
	flag.Parse()

	policy, err := config.LoadPolicy(policyFile)
	if err != nil {
		log.Fatalf("load policy: %v", err)
	}

	gateway, err := snapshot.OpenSQLite(dbPath)
	if err != nil {
		log.Fatalf("open sqlite: %v", err)
	}
	defer gateway.Close()

	eng, err := moderation.New(moderation.Options{
		Channel: channel,
		Policy:  policy,
		Gateway: gateway,
	})
	if err != nil {
		log.Fatalf("engine: %v", err)
	}
	defer eng.Close()

	log.Printf("devmod listening on %s (db=%s channel=%s)", addr, dbPath, channel)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /message", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req messageReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Ts.IsZero() {
			req.Ts = time.Now().UTC()
		}
		msg := core.ChatMessage{
			Ts:       req.Ts,
			Username: req.Username,
			Channel:  channel,
			Text:     req.Text,
			Role:     core.Role(req.Role),
		}
		verdict, err := eng.ModerateMessage(r.Context(), msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if verdict == nil {
			_ = json.NewEncoder(w).Encode(map[string]any{"clean": true})
			return
		}
		_ = json.NewEncoder(w).Encode(verdict)
	})

	mux.HandleFunc("POST /raid", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req raidReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		out, err := eng.HandleRaid(r.Context(), req.Raider, req.Viewers)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})

	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(eng.GetModerationStats())
	})

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	log.Fatal(http.ListenAndServe(addr, mux))
}
