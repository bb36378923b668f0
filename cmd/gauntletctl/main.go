package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gauntlet/worker/internal/database"
	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/lobby"
	"github.com/gauntlet/worker/internal/timeline"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "sessions":
		cmdSessions()
	case "show":
		cmdShow()
	case "announce":
		cmdAnnounce()
	case "purge":
		cmdPurge()
	case "status":
		cmdStatus()
	case "version":
		fmt.Printf("gauntletctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Gauntlet Worker CLI v` + version + `

Usage: gauntletctl <command> [args]

Commands:
  sessions              List recent sessions
  show <id>             Show a session's phase timeline
  announce <id>         Publish a new-session event for a scheduled session
  purge <id> [--flush]  Remove a session's hot-store keys
  status                Show the worker loop status
  version               Print version
  help                  Show this help

Environment:
  PG_HOST, PG_PORT, PG_USER, PG_PASSWORD, PG_DATABASE, PG_SSLMODE
  REDIS_URL    Hot store endpoint (announce, purge)
  WORKER_URL   Worker ops endpoint (default: http://localhost:8080)

Examples:
  gauntletctl show 42
  gauntletctl announce 42
  gauntletctl purge 42 --flush`)
}

// ----------------------------------------------------------------
// sessions command
// ----------------------------------------------------------------

func cmdSessions() {
	db := openDB()
	defer db.Close()

	sessions, err := db.RecentSessions(context.Background(), 20)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Query failed: %v\n", err)
		os.Exit(1)
	}
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}

	now := time.Now().UTC()
	fmt.Printf("%-6s %-24s %-7s %-20s %-20s %s\n", "ID", "NAME", "ROUNDS", "START", "END", "STATE")
	fmt.Println("-----------------------------------------------------------------------------------------")
	for _, s := range sessions {
		state := "scheduled"
		switch {
		case now.After(s.EndTime):
			state = "finished"
		case !now.Before(s.StartTime):
			state = "live"
		}
		fmt.Printf("%-6d %-24s %-7d %-20s %-20s %s\n",
			s.ID, s.Name, s.TotalRounds,
			s.StartTime.Format(time.RFC3339), s.EndTime.Format(time.RFC3339), state)
	}
}

// ----------------------------------------------------------------
// show command
// ----------------------------------------------------------------

func cmdShow() {
	id := sessionIDArg()
	db := openDB()
	defer db.Close()

	session, err := db.SessionByID(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Query failed: %v\n", err)
		os.Exit(1)
	}
	if session == nil {
		fmt.Fprintf(os.Stderr, "Session %d not found\n", id)
		os.Exit(1)
	}

	fmt.Printf("Session %d: %s\n", session.ID, session.Name)
	fmt.Printf("Window:   %s → %s\n",
		session.StartTime.Format(time.RFC3339), session.EndTime.Format(time.RFC3339))
	fmt.Printf("Rounds:   %d    Players: %d    Entry fee: %d\n",
		session.TotalRounds, len(session.Players), session.EntryFee)
	fmt.Println()

	// Zero reference time keeps every boundary in the dump, including the
	// session opening.
	tl := timeline.Build(session, time.Time{})
	fmt.Printf("%-4s %-19s %-6s %s\n", "#", "PHASE", "ROUND", "TIME")
	fmt.Println("--------------------------------------------------------")
	for i, evt := range tl.Events() {
		round := "-"
		if evt.Round > 0 {
			round = strconv.Itoa(evt.Round)
		}
		fmt.Printf("%-4d %-19s %-6s %s\n", i+1, evt.Phase, round, evt.Time.Format(time.RFC3339))
	}
}

// ----------------------------------------------------------------
// announce command
// ----------------------------------------------------------------

func cmdAnnounce() {
	id := sessionIDArg()
	db := openDB()
	defer db.Close()

	session, err := db.SessionByID(context.Background(), id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Query failed: %v\n", err)
		os.Exit(1)
	}
	if session == nil {
		fmt.Fprintf(os.Stderr, "Session %d not found, refusing to announce\n", id)
		os.Exit(1)
	}

	store := openStore()
	defer store.Close()

	payload, _ := json.Marshal(map[string]int64{"sessionId": id})
	if err := store.Publish(context.Background(), hotstore.ChannelNewSession, payload); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Announced session %d (%s) on %q\n", id, session.Name, hotstore.ChannelNewSession)
}

// ----------------------------------------------------------------
// purge command
// ----------------------------------------------------------------

func cmdPurge() {
	id := sessionIDArg()
	flush := false
	for _, arg := range os.Args[3:] {
		if arg == "--flush" {
			flush = true
		}
	}

	store := openStore()
	defer store.Close()

	manager := lobby.NewManager(store)
	if err := manager.PurgeSession(context.Background(), id, flush); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Purge failed: %v\n", err)
		os.Exit(1)
	}
	if flush {
		fmt.Printf("✅ Flushed the hot store (session %d and everything else)\n", id)
	} else {
		fmt.Printf("✅ Purged hot-store keys for session %d\n", id)
	}
}

// ----------------------------------------------------------------
// status command
// ----------------------------------------------------------------

func cmdStatus() {
	base := os.Getenv("WORKER_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(base + "/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var status map[string]interface{}
	if err := json.Unmarshal(body, &status); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Bad response from %s: %v\n", base, err)
		os.Exit(1)
	}

	fmt.Printf("Instance:  %v\n", status["instanceId"])
	fmt.Printf("State:     %v\n", status["state"])
	if id, ok := status["sessionId"]; ok {
		fmt.Printf("Session:   %v (%v)\n", id, status["sessionName"])
	}
	if phase, ok := status["nextPhase"]; ok && phase != "" {
		fmt.Printf("Next:      %v round=%v at %v\n", phase, status["nextRound"], status["nextPhaseAt"])
	}
	if completed, ok := status["completedSessions"].([]interface{}); ok {
		fmt.Printf("Completed: %d session(s)\n", len(completed))
	}
}

// ----------------------------------------------------------------
// helpers
// ----------------------------------------------------------------

func sessionIDArg() int64 {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: gauntletctl %s <session-id>\n", os.Args[1])
		os.Exit(1)
	}
	id, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Invalid session id: %s\n", os.Args[2])
		os.Exit(1)
	}
	return id
}

func openDB() *database.Store {
	port := 5432
	if raw := os.Getenv("PG_PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		}
	}
	db, err := database.Open(database.Config{
		Host:     envOr("PG_HOST", "localhost"),
		Port:     port,
		User:     envOr("PG_USER", "postgres"),
		Password: os.Getenv("PG_PASSWORD"),
		Database: envOr("PG_DATABASE", "gauntlet"),
		SSLMode:  envOr("PG_SSLMODE", "disable"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Postgres connection failed: %v\n", err)
		os.Exit(1)
	}
	return db
}

func openStore() hotstore.Store {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "REDIS_URL is required for this command")
		os.Exit(1)
	}
	store, err := hotstore.NewRedisStore(url, 5*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Hot store connection failed: %v\n", err)
		os.Exit(1)
	}
	return store
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
