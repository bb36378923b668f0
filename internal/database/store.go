// Package database is the worker's read-only view of the authoritative
// schedule: sessions, their rounds with full phase timestamps, and player
// registrations. The worker never writes here.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/gauntlet/worker/internal/model"
)

// Config holds the Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Timeout bounds each query (default 5s).
	Timeout time.Duration
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// Store wraps the sql connection pool.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

// Open connects and verifies the connection. Startup fails hard when the
// relational store is unreachable; there is no degraded mode without it.
func Open(cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	slog.Info("[Database] Connected", "host", cfg.Host, "database", cfg.Database)
	return &Store{db: db, timeout: timeout}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

const sessionColumns = `id, name, entry_fee, max_total_players, total_rounds, start_time, end_time, created_at`

// ActiveSession returns the session covering now (start ≤ now ≤ end),
// earliest start first when windows overlap. Returns (nil, nil) when no
// session is live.
func (s *Store) ActiveSession(ctx context.Context, now time.Time) (*model.Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE start_time <= $1 AND end_time >= $1
		 ORDER BY start_time ASC LIMIT 1`, now.UTC())
	return scanSession(row)
}

// NextSession returns the first session scheduled after now, or (nil, nil).
func (s *Store) NextSession(ctx context.Context, now time.Time) (*model.Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE start_time > $1
		 ORDER BY start_time ASC LIMIT 1`, now.UTC())
	return scanSession(row)
}

// RecentSessions returns up to limit sessions, newest start first. Ops
// tooling only; the worker itself never lists.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]model.Session, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("database: query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// SessionByID loads the full session: rounds ordered by number and players
// ordered by registration time. Returns (nil, nil) when the id is unknown.
func (s *Store) SessionByID(ctx context.Context, id int64) (*model.Session, error) {
	qctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(qctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil || session == nil {
		return session, err
	}

	if session.Rounds, err = s.roundsBySession(ctx, id); err != nil {
		return nil, err
	}
	if session.Players, err = s.PlayersBySession(ctx, id); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Store) roundsBySession(ctx context.Context, sessionID int64) ([]model.Round, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, round_number, ai_message_start, ai_message_end,
		        start_time, end_time, elimination_start, elimination_end,
		        voting_start_time, voting_end_time
		 FROM rounds WHERE session_id = $1 ORDER BY round_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("database: query rounds: %w", err)
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var r model.Round
		var ams, ame, st, et, es, ee, vs, ve sql.NullTime
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Number,
			&ams, &ame, &st, &et, &es, &ee, &vs, &ve); err != nil {
			return nil, fmt.Errorf("database: scan round: %w", err)
		}
		r.AIMessageStart = nullTimeUTC(ams)
		r.AIMessageEnd = nullTimeUTC(ame)
		r.StartTime = nullTimeUTC(st)
		r.EndTime = nullTimeUTC(et)
		r.EliminationStart = nullTimeUTC(es)
		r.EliminationEnd = nullTimeUTC(ee)
		r.VotingStartTime = nullTimeUTC(vs)
		r.VotingEndTime = nullTimeUTC(ve)
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

// PlayersBySession returns registrations ordered by join time. The
// SESSION_START handler calls this directly so late registrations made
// after the session was picked still end up in lobbies.
func (s *Store) PlayersBySession(ctx context.Context, sessionID int64) ([]model.Player, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, wallet_address, joined_at, status, total_rounds_played
		 FROM players WHERE session_id = $1 ORDER BY joined_at ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("database: query players: %w", err)
	}
	defer rows.Close()

	var players []model.Player
	for rows.Next() {
		var p model.Player
		var joined sql.NullTime
		var status string
		if err := rows.Scan(&p.ID, &p.SessionID, &p.WalletAddress, &joined,
			&status, &p.TotalRoundsPlayed); err != nil {
			return nil, fmt.Errorf("database: scan player: %w", err)
		}
		p.JoinedAt = nullTimeUTC(joined)
		p.Status = model.PlayerStatus(status)
		players = append(players, p)
	}
	return players, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var s model.Session
	var start, end, created sql.NullTime
	err := row.Scan(&s.ID, &s.Name, &s.EntryFee, &s.MaxTotalPlayers,
		&s.TotalRounds, &start, &end, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database: scan session: %w", err)
	}
	s.StartTime = nullTimeUTC(start)
	s.EndTime = nullTimeUTC(end)
	s.CreatedAt = nullTimeUTC(created)
	return &s, nil
}

func nullTimeUTC(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time.UTC()
}
