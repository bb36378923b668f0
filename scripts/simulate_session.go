package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/gauntlet/worker/internal/hotstore"
)

// Compressed timings so a local worker runs a full session in minutes.
const (
	simRounds      = 2
	simPlayers     = 6
	roundLength    = 3 * time.Minute
	startLeadTime  = 1 * time.Minute
	sessionPadding = 1 * time.Minute
)

func main() {
	fmt.Println("🎮 Seeding a Gauntlet session")

	db, err := sql.Open("postgres", dsn())
	if err != nil {
		log.Fatalf("❌ Postgres open failed: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		log.Fatalf("❌ Postgres ping failed: %v", err)
	}

	ctx := context.Background()
	start := time.Now().UTC().Add(startLeadTime).Truncate(time.Second)
	end := start.Add(simRounds*roundLength + sessionPadding)

	var sessionID int64
	err = db.QueryRowContext(ctx,
		`INSERT INTO sessions (name, entry_fee, max_total_players, total_rounds, start_time, end_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 RETURNING id`,
		fmt.Sprintf("Simulated Gauntlet %s", start.Format("15:04")),
		100, simPlayers, simRounds, start, end).Scan(&sessionID)
	if err != nil {
		log.Fatalf("❌ Session insert failed: %v", err)
	}
	fmt.Printf("✅ Session %d scheduled: %s → %s\n", sessionID,
		start.Format(time.RFC3339), end.Format(time.RFC3339))

	for n := 1; n <= simRounds; n++ {
		base := start.Add(time.Duration(n-1) * roundLength)
		_, err = db.ExecContext(ctx,
			`INSERT INTO rounds (session_id, round_number, ai_message_start, ai_message_end,
			                     start_time, end_time, elimination_start, elimination_end,
			                     voting_start_time, voting_end_time)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			sessionID, n,
			base, base.Add(20*time.Second),
			base.Add(25*time.Second), base.Add(100*time.Second),
			base.Add(105*time.Second), base.Add(130*time.Second),
			base.Add(135*time.Second), base.Add(170*time.Second))
		if err != nil {
			log.Fatalf("❌ Round %d insert failed: %v", n, err)
		}
	}
	fmt.Printf("✅ %d rounds written, %s each\n", simRounds, roundLength)

	for i := 0; i < simPlayers; i++ {
		wallet := fmt.Sprintf("0xSIM%040d", i+1)
		_, err = db.ExecContext(ctx,
			`INSERT INTO players (session_id, wallet_address, joined_at, status, total_rounds_played)
			 VALUES ($1, $2, NOW(), 'ACTIVE', 0)`,
			sessionID, wallet)
		if err != nil {
			log.Fatalf("❌ Player insert failed: %v", err)
		}
	}
	fmt.Printf("✅ %d players registered\n", simPlayers)

	// Announce so an already-running worker picks it up without polling.
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		fmt.Println("ℹ️  REDIS_URL not set, skipping announcement")
		fmt.Printf("   Run: gauntletctl announce %d\n", sessionID)
		return
	}
	store, err := hotstore.NewRedisStore(redisURL, 5*time.Second)
	if err != nil {
		log.Fatalf("❌ Hot store connect failed: %v", err)
	}
	defer store.Close()

	payload, _ := json.Marshal(map[string]int64{"sessionId": sessionID})
	if err := store.Publish(ctx, hotstore.ChannelNewSession, payload); err != nil {
		log.Fatalf("❌ Announce failed: %v", err)
	}
	fmt.Printf("📡 Announced session %d on %q\n", sessionID, hotstore.ChannelNewSession)
	fmt.Printf("🏁 Session goes live at %s\n", start.Format(time.RFC3339))
}

func dsn() string {
	host := envOr("PG_HOST", "localhost")
	port := envOr("PG_PORT", "5432")
	user := envOr("PG_USER", "postgres")
	password := os.Getenv("PG_PASSWORD")
	name := envOr("PG_DATABASE", "gauntlet")
	ssl := envOr("PG_SSLMODE", "disable")
	if _, err := strconv.Atoi(port); err != nil {
		log.Fatalf("❌ Bad PG_PORT: %s", port)
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host, port, user, password, name, ssl)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
