package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/gauntlet/worker/internal/database"
	"github.com/gauntlet/worker/internal/model"
)

// VerificationResult stores check results
type VerificationResult struct {
	Table   string
	Status  string
	Details string
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        Gauntlet Worker - Schedule Schema Verification         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()

	db, err := database.Open(pgConfig())
	if err != nil {
		log.Fatalf("❌ Failed to connect to Postgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	results := []VerificationResult{}

	fmt.Println("Checking tables...")
	fmt.Println()

	// Check 1: Sessions
	result, sampleID := testSessions(ctx, db)
	results = append(results, result)
	printResult(result)

	// Check 2: Rounds
	result = testRounds(ctx, db, sampleID)
	results = append(results, result)
	printResult(result)

	// Check 3: Players
	result = testPlayers(ctx, db, sampleID)
	results = append(results, result)
	printResult(result)

	// Check 4: Active-session query
	result = testActiveQuery(ctx, db)
	results = append(results, result)
	printResult(result)

	// Check 5: Next-session query
	result = testNextQuery(ctx, db)
	results = append(results, result)
	printResult(result)

	// Summary
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	passed := 0
	failed := 0
	for _, r := range results {
		if r.Status == "❌ FAIL" {
			failed++
		} else {
			passed++
		}
	}
	fmt.Printf("Results: %d PASSED, %d FAILED\n", passed, failed)
	fmt.Println("═══════════════════════════════════════════════════════════════")
	if failed > 0 {
		os.Exit(1)
	}
}

func printResult(r VerificationResult) {
	fmt.Printf("  %-25s %s  %s\n", r.Table, r.Status, r.Details)
}

// testSessions also returns a sample session id for the dependent checks.
func testSessions(ctx context.Context, db *database.Store) (VerificationResult, int64) {
	sessions, err := db.RecentSessions(ctx, 5)
	if err != nil {
		return VerificationResult{"sessions", "❌ FAIL", err.Error()}, 0
	}
	if len(sessions) == 0 {
		return VerificationResult{"sessions", "⚠️ WARN", "No sessions found"}, 0
	}
	return VerificationResult{"sessions", "✅ PASS",
		fmt.Sprintf("Found %d sessions, latest: %s", len(sessions), sessions[0].Name)}, sessions[0].ID
}

func testRounds(ctx context.Context, db *database.Store, sessionID int64) VerificationResult {
	if sessionID == 0 {
		return VerificationResult{"session_rounds", "⚠️ WARN", "No session to check"}
	}
	session, err := db.SessionByID(ctx, sessionID)
	if err != nil {
		return VerificationResult{"session_rounds", "❌ FAIL", err.Error()}
	}
	if len(session.Rounds) != session.TotalRounds {
		return VerificationResult{"session_rounds", "❌ FAIL",
			fmt.Sprintf("Session %d declares %d rounds, found %d", sessionID, session.TotalRounds, len(session.Rounds))}
	}
	for n := 1; n <= session.TotalRounds; n++ {
		round := session.RoundByNumber(n)
		if round == nil {
			return VerificationResult{"session_rounds", "❌ FAIL",
				fmt.Sprintf("Session %d is missing round %d", sessionID, n)}
		}
		if msg := checkBoundaries(round); msg != "" {
			return VerificationResult{"session_rounds", "❌ FAIL",
				fmt.Sprintf("Round %d: %s", n, msg)}
		}
	}
	return VerificationResult{"session_rounds", "✅ PASS",
		fmt.Sprintf("%d rounds, boundaries ordered", session.TotalRounds)}
}

// checkBoundaries verifies the eight phase timestamps of a round are set
// and non-decreasing in timeline order.
func checkBoundaries(r *model.Round) string {
	boundaries := []struct {
		name string
		at   time.Time
	}{
		{"ai_message_start", r.AIMessageStart},
		{"ai_message_end", r.AIMessageEnd},
		{"start_time", r.StartTime},
		{"end_time", r.EndTime},
		{"elimination_start", r.EliminationStart},
		{"elimination_end", r.EliminationEnd},
		{"voting_start_time", r.VotingStartTime},
		{"voting_end_time", r.VotingEndTime},
	}
	for i, b := range boundaries {
		if b.at.IsZero() {
			return fmt.Sprintf("%s is not set", b.name)
		}
		if i > 0 && b.at.Before(boundaries[i-1].at) {
			return fmt.Sprintf("%s precedes %s", b.name, boundaries[i-1].name)
		}
	}
	return ""
}

func testPlayers(ctx context.Context, db *database.Store, sessionID int64) VerificationResult {
	if sessionID == 0 {
		return VerificationResult{"session_players", "⚠️ WARN", "No session to check"}
	}
	players, err := db.PlayersBySession(ctx, sessionID)
	if err != nil {
		return VerificationResult{"session_players", "❌ FAIL", err.Error()}
	}
	if len(players) == 0 {
		return VerificationResult{"session_players", "⚠️ WARN",
			fmt.Sprintf("Session %d has no registered players", sessionID)}
	}
	return VerificationResult{"session_players", "✅ PASS",
		fmt.Sprintf("Found %d players", len(players))}
}

func testActiveQuery(ctx context.Context, db *database.Store) VerificationResult {
	session, err := db.ActiveSession(ctx, time.Now().UTC())
	if err != nil {
		return VerificationResult{"active_session_query", "❌ FAIL", err.Error()}
	}
	if session == nil {
		return VerificationResult{"active_session_query", "✅ PASS", "No live session right now"}
	}
	return VerificationResult{"active_session_query", "✅ PASS",
		fmt.Sprintf("Live: %s (id %d)", session.Name, session.ID)}
}

func testNextQuery(ctx context.Context, db *database.Store) VerificationResult {
	session, err := db.NextSession(ctx, time.Now().UTC())
	if err != nil {
		return VerificationResult{"next_session_query", "❌ FAIL", err.Error()}
	}
	if session == nil {
		return VerificationResult{"next_session_query", "✅ PASS", "Nothing scheduled ahead"}
	}
	return VerificationResult{"next_session_query", "✅ PASS",
		fmt.Sprintf("Next: %s at %s", session.Name, session.StartTime.Format(time.RFC3339))}
}

func pgConfig() database.Config {
	port := 5432
	if raw := os.Getenv("PG_PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		}
	}
	return database.Config{
		Host:     envOr("PG_HOST", "localhost"),
		Port:     port,
		User:     envOr("PG_USER", "postgres"),
		Password: os.Getenv("PG_PASSWORD"),
		Database: envOr("PG_DATABASE", "gauntlet"),
		SSLMode:  envOr("PG_SSLMODE", "disable"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
