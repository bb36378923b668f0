// Package lobby owns the hot-store lifecycle of session lobbies: creation
// and partitioning at session start, status and roster mutation during
// elimination and voting, and the scoped purge at the session boundaries.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/model"
)

// Manager reads and writes lobby state in the hot store. The worker is
// the sole writer of everything the Manager touches; external services
// only read these keys.
type Manager struct {
	store hotstore.KV
	now   func() time.Time
}

func NewManager(store hotstore.KV) *Manager {
	return &Manager{store: store, now: time.Now}
}

// CreateLobby writes a lobby blob and registers it in the session's lobby
// index. Idempotent: an existing lobby is returned untouched, so a re-run
// of session start cannot reshuffle players mid-game.
func (m *Manager) CreateLobby(ctx context.Context, sessionID int64, lobbyID string, players []model.LobbyPlayer) (*model.Lobby, error) {
	key := hotstore.LobbyKey(sessionID, lobbyID)

	exists, err := m.store.Exists(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lobby: check %s: %w", lobbyID, err)
	}
	if exists {
		slog.Info("[LobbyManager] Lobby already exists, keeping it", "lobbyID", lobbyID)
		return m.GetLobby(ctx, sessionID, lobbyID)
	}

	lb := &model.Lobby{
		ID:        lobbyID,
		SessionID: sessionID,
		Players:   players,
		CreatedAt: m.now().UTC(),
		Status:    model.LobbyStatusActive,
	}
	if err := m.writeLobby(ctx, lb); err != nil {
		return nil, err
	}
	if err := m.store.SAdd(ctx, hotstore.LobbyIndexKey(sessionID), key); err != nil {
		return nil, fmt.Errorf("lobby: index %s: %w", lobbyID, err)
	}

	slog.Info("[LobbyManager] Created lobby", "lobbyID", lobbyID, "players", len(players))
	return lb, nil
}

// GetLobby loads one lobby blob. Returns hotstore.ErrNotFound when the
// lobby does not exist.
func (m *Manager) GetLobby(ctx context.Context, sessionID int64, lobbyID string) (*model.Lobby, error) {
	data, err := m.store.Get(ctx, hotstore.LobbyKey(sessionID, lobbyID))
	if err != nil {
		return nil, fmt.Errorf("lobby: get %s: %w", lobbyID, err)
	}
	var lb model.Lobby
	if err := json.Unmarshal(data, &lb); err != nil {
		return nil, fmt.Errorf("lobby: decode %s: %w", lobbyID, err)
	}
	return &lb, nil
}

// GetAllLobbies dereferences the session's lobby index. Missing or
// corrupt entries are skipped with a warning rather than failing the
// whole phase.
func (m *Manager) GetAllLobbies(ctx context.Context, sessionID int64) ([]*model.Lobby, error) {
	keys, err := m.store.SMembers(ctx, hotstore.LobbyIndexKey(sessionID))
	if err != nil {
		return nil, fmt.Errorf("lobby: list session %d: %w", sessionID, err)
	}

	lobbies := make([]*model.Lobby, 0, len(keys))
	for _, key := range keys {
		data, err := m.store.Get(ctx, key)
		if err != nil {
			slog.Warn("[LobbyManager] Skipping unreadable lobby key", "key", key, "error", err)
			continue
		}
		var lb model.Lobby
		if err := json.Unmarshal(data, &lb); err != nil {
			slog.Warn("[LobbyManager] Skipping corrupt lobby blob", "key", key, "error", err)
			continue
		}
		lobbies = append(lobbies, &lb)
	}
	return lobbies, nil
}

// GetActiveLobbies returns the session's lobbies still playing.
func (m *Manager) GetActiveLobbies(ctx context.Context, sessionID int64) ([]*model.Lobby, error) {
	all, err := m.GetAllLobbies(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	active := make([]*model.Lobby, 0, len(all))
	for _, lb := range all {
		if lb.Status == model.LobbyStatusActive {
			active = append(active, lb)
		}
	}
	return active, nil
}

// UpdateLobby replaces the lobby blob wholesale.
func (m *Manager) UpdateLobby(ctx context.Context, lb *model.Lobby) error {
	return m.writeLobby(ctx, lb)
}

// UpdateLobbyStatus transitions a lobby's status with a read-modify-write.
// Errors when the lobby is missing; a status change on a purged lobby
// means the caller is operating on a stale session.
func (m *Manager) UpdateLobbyStatus(ctx context.Context, sessionID int64, lobbyID string, status model.LobbyStatus) error {
	lb, err := m.GetLobby(ctx, sessionID, lobbyID)
	if err != nil {
		return err
	}
	lb.Status = status
	if err := m.writeLobby(ctx, lb); err != nil {
		return err
	}
	slog.Info("[LobbyManager] Updated lobby status", "lobbyID", lobbyID, "status", status)
	return nil
}

// SetPlayerStatus writes the per-player status key external readers poll.
func (m *Manager) SetPlayerStatus(ctx context.Context, lobbyID, wallet string, status model.PlayerStatus) error {
	data, err := json.Marshal(model.PlayerState{Status: status})
	if err != nil {
		return fmt.Errorf("lobby: encode player state: %w", err)
	}
	if err := m.store.Set(ctx, hotstore.PlayerStateKey(lobbyID, wallet), data, 0); err != nil {
		return fmt.Errorf("lobby: set player %s state: %w", wallet, err)
	}
	return nil
}

// GetVotingResults tallies the round's vote list into counts per choice
// token. Unknown tokens are counted under their literal value so a
// client-side regression shows up in the logs instead of vanishing.
func (m *Manager) GetVotingResults(ctx context.Context, sessionID int64, lobbyID string, round int) (map[string]int, error) {
	votes, err := m.store.LRange(ctx, hotstore.VotesKey(sessionID, lobbyID, round), 0, -1)
	if err != nil {
		if errors.Is(err, hotstore.ErrNotFound) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("lobby: read votes %s round %d: %w", lobbyID, round, err)
	}

	results := make(map[string]int)
	for _, v := range votes {
		token := strings.ToLower(strings.TrimSpace(v))
		if token == "" {
			continue
		}
		if token != model.VoteContinue && token != model.VoteShare {
			slog.Warn("[LobbyManager] Unknown vote token", "lobbyID", lobbyID, "round", round, "token", token)
		}
		results[token]++
	}
	return results, nil
}

// GetRemainingPlayers returns the wallets still playing in a lobby. A
// non-active lobby has no remaining players by definition.
func (m *Manager) GetRemainingPlayers(ctx context.Context, sessionID int64, lobbyID string) ([]string, error) {
	lb, err := m.GetLobby(ctx, sessionID, lobbyID)
	if err != nil {
		return nil, err
	}
	if lb.Status != model.LobbyStatusActive {
		return []string{}, nil
	}
	return lb.ActiveWallets(), nil
}

// AppendElimination merges newly eliminated wallets into the lobby's
// cumulative record, preserving elimination order and dropping wallets
// already recorded. Returns the merged record.
func (m *Manager) AppendElimination(ctx context.Context, lobbyID string, wallets []string) ([]string, error) {
	key := hotstore.EliminationKey(lobbyID)

	var record model.EliminationRecord
	data, err := m.store.Get(ctx, key)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &record); err != nil {
			slog.Warn("[LobbyManager] Corrupt elimination record, starting fresh", "lobbyID", lobbyID, "error", err)
			record.EliminatedPlayers = nil
		}
	case errors.Is(err, hotstore.ErrNotFound):
	default:
		return nil, fmt.Errorf("lobby: read eliminations %s: %w", lobbyID, err)
	}

	seen := make(map[string]bool, len(record.EliminatedPlayers))
	for _, w := range record.EliminatedPlayers {
		seen[w] = true
	}
	for _, w := range wallets {
		if !seen[w] {
			record.EliminatedPlayers = append(record.EliminatedPlayers, w)
			seen[w] = true
		}
	}

	out, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("lobby: encode eliminations %s: %w", lobbyID, err)
	}
	if err := m.store.Set(ctx, key, out, 0); err != nil {
		return nil, fmt.Errorf("lobby: write eliminations %s: %w", lobbyID, err)
	}
	return record.EliminatedPlayers, nil
}

// EliminatedPlayers reads the lobby's cumulative elimination record.
func (m *Manager) EliminatedPlayers(ctx context.Context, lobbyID string) ([]string, error) {
	data, err := m.store.Get(ctx, hotstore.EliminationKey(lobbyID))
	if err != nil {
		if errors.Is(err, hotstore.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("lobby: read eliminations %s: %w", lobbyID, err)
	}
	var record model.EliminationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("lobby: decode eliminations %s: %w", lobbyID, err)
	}
	return record.EliminatedPlayers, nil
}

// CacheTopic stores the AI round topic for one lobby.
func (m *Manager) CacheTopic(ctx context.Context, sessionID int64, round int, lobbyID, topic string) error {
	data, err := json.Marshal(model.TopicRecord{TopicMessage: topic})
	if err != nil {
		return fmt.Errorf("lobby: encode topic: %w", err)
	}
	if err := m.store.Set(ctx, hotstore.TopicKey(sessionID, round, lobbyID), data, 0); err != nil {
		return fmt.Errorf("lobby: cache topic %s round %d: %w", lobbyID, round, err)
	}
	return nil
}

// CachedTopic returns the stored topic for a lobby's round, or
// hotstore.ErrNotFound when no topic was cached.
func (m *Manager) CachedTopic(ctx context.Context, sessionID int64, round int, lobbyID string) (string, error) {
	data, err := m.store.Get(ctx, hotstore.TopicKey(sessionID, round, lobbyID))
	if err != nil {
		return "", fmt.Errorf("lobby: read topic %s round %d: %w", lobbyID, round, err)
	}
	var record model.TopicRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return "", fmt.Errorf("lobby: decode topic %s round %d: %w", lobbyID, round, err)
	}
	return record.TopicMessage, nil
}

// ClearVotes deletes the round's vote list so stale votes from an
// interrupted round can never leak into the tally.
func (m *Manager) ClearVotes(ctx context.Context, sessionID int64, lobbyID string, round int) error {
	if err := m.store.Del(ctx, hotstore.VotesKey(sessionID, lobbyID, round)); err != nil {
		return fmt.Errorf("lobby: clear votes %s round %d: %w", lobbyID, round, err)
	}
	return nil
}

// PurgeSession deletes every hot-store key the worker may have written
// for a session. With flush set it empties the whole store instead,
// which is only safe on a single-tenant deployment.
func (m *Manager) PurgeSession(ctx context.Context, sessionID int64, flush bool) error {
	if flush {
		slog.Warn("[LobbyManager] Flushing entire hot store", "sessionID", sessionID)
		if err := m.store.FlushAll(ctx); err != nil {
			return fmt.Errorf("lobby: flush: %w", err)
		}
		return nil
	}

	// Collect the lobby-scoped patterns before the index is deleted.
	patterns := hotstore.SessionPatterns(sessionID)
	indexKeys, err := m.store.SMembers(ctx, hotstore.LobbyIndexKey(sessionID))
	if err != nil && !errors.Is(err, hotstore.ErrNotFound) {
		return fmt.Errorf("lobby: purge session %d: read index: %w", sessionID, err)
	}
	for _, key := range indexKeys {
		lobbyID, ok := lobbyIDFromKey(key)
		if !ok {
			slog.Warn("[LobbyManager] Unrecognized lobby index entry", "key", key)
			continue
		}
		patterns = append(patterns, hotstore.LobbyPatterns(lobbyID)...)
	}

	deleted := 0
	for _, pattern := range patterns {
		keys, err := m.store.ScanKeys(ctx, pattern)
		if err != nil {
			return fmt.Errorf("lobby: purge session %d: scan %s: %w", sessionID, pattern, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := m.store.Del(ctx, keys...); err != nil {
			return fmt.Errorf("lobby: purge session %d: delete: %w", sessionID, err)
		}
		deleted += len(keys)
	}

	slog.Info("[LobbyManager] Purged session keys", "sessionID", sessionID, "keys", deleted)
	return nil
}

// lobbyIDFromKey recovers the lobby id from an index entry, which stores
// the full blob key ("lobby:session:<id>:lobby:<lobbyID>").
func lobbyIDFromKey(key string) (string, bool) {
	const marker = ":lobby:"
	i := strings.LastIndex(key, marker)
	if i < 0 || i+len(marker) >= len(key) {
		return "", false
	}
	return key[i+len(marker):], true
}

func (m *Manager) writeLobby(ctx context.Context, lb *model.Lobby) error {
	data, err := json.Marshal(lb)
	if err != nil {
		return fmt.Errorf("lobby: encode %s: %w", lb.ID, err)
	}
	if err := m.store.Set(ctx, hotstore.LobbyKey(lb.SessionID, lb.ID), data, 0); err != nil {
		return fmt.Errorf("lobby: write %s: %w", lb.ID, err)
	}
	return nil
}
