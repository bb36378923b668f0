package lobby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/model"
)

// RosterSource supplies the registered players when the hot-store cache
// is cold. Satisfied by *database.Store.
type RosterSource interface {
	PlayersBySession(ctx context.Context, sessionID int64) ([]model.Player, error)
}

// Distributor partitions a session's registered players into lobbies at
// session start.
type Distributor struct {
	store   hotstore.KV
	roster  RosterSource
	manager *Manager
	now     func() time.Time
}

func NewDistributor(store hotstore.KV, roster RosterSource, manager *Manager) *Distributor {
	return &Distributor{store: store, roster: roster, manager: manager, now: time.Now}
}

// Distribute shuffles the registered players and splits them into lobbies
// of at most maxPerLobby each. Lobby ids are "<sessionID>-<n>" with n
// starting at 1. Idempotent: when the session already has lobbies they
// are returned as-is, so a restart inside SESSION_START cannot reshuffle
// a running game. Returns an empty slice when nobody registered.
func (d *Distributor) Distribute(ctx context.Context, session *model.Session, maxPerLobby int) ([]*model.Lobby, error) {
	if maxPerLobby < 1 {
		return nil, fmt.Errorf("lobby: max per lobby must be positive, got %d", maxPerLobby)
	}

	existing, err := d.manager.GetAllLobbies(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		slog.Info("[Distributor] Lobbies already exist, keeping them",
			"sessionID", session.ID, "lobbies", len(existing))
		return existing, nil
	}

	wallets, byWallet, err := d.loadRoster(ctx, session)
	if err != nil {
		return nil, err
	}
	total := len(wallets)
	if total == 0 {
		return []*model.Lobby{}, nil
	}

	rand.Shuffle(total, func(i, j int) {
		wallets[i], wallets[j] = wallets[j], wallets[i]
	})

	// Fewer, fuller lobbies: the floor division may leave a remainder,
	// which all lands in the last lobby rather than opening a tiny one.
	n := total / maxPerLobby
	if n < 1 {
		n = 1
	}
	base := total / n

	lobbies := make([]*model.Lobby, 0, n)
	start := 0
	for i := 1; i <= n; i++ {
		end := start + base
		if i == n {
			end = total
		}
		members := wallets[start:end]
		start = end

		players := make([]model.LobbyPlayer, 0, len(members))
		for _, w := range members {
			if p, ok := byWallet[w]; ok {
				players = append(players, p.LobbySnapshot())
				continue
			}
			// Cached wallet without a loaded row: registered after the
			// session was read. Still gets a seat.
			players = append(players, model.LobbyPlayer{
				WalletAddress: w,
				Status:        model.PlayerStatusActive,
				JoinedAt:      d.now().UTC(),
			})
		}

		lobbyID := fmt.Sprintf("%d-%d", session.ID, i)
		lb, err := d.manager.CreateLobby(ctx, session.ID, lobbyID, players)
		if err != nil {
			return nil, err
		}
		for _, p := range players {
			if err := d.manager.SetPlayerStatus(ctx, lobbyID, p.WalletAddress, model.PlayerStatusActive); err != nil {
				return nil, err
			}
		}
		lobbies = append(lobbies, lb)
	}

	slog.Info("[Distributor] Distributed players into lobbies",
		"sessionID", session.ID, "players", total, "lobbies", n)
	return lobbies, nil
}

// loadRoster returns the wallets to seat and whatever full player rows we
// have for them. The hot-store set wins when present because the
// registration API keeps it current up to the session start.
func (d *Distributor) loadRoster(ctx context.Context, session *model.Session) ([]string, map[string]model.Player, error) {
	byWallet := make(map[string]model.Player, len(session.Players))
	for _, p := range session.Players {
		byWallet[p.WalletAddress] = p
	}

	key := hotstore.SessionPlayersKey(session.ID)
	wallets, err := d.store.SMembers(ctx, key)
	if err != nil && !errors.Is(err, hotstore.ErrNotFound) {
		return nil, nil, fmt.Errorf("lobby: read cached players: %w", err)
	}
	if len(wallets) > 0 {
		slog.Info("[Distributor] Using cached player set", "sessionID", session.ID, "players", len(wallets))
		return wallets, byWallet, nil
	}

	players, err := d.roster.PlayersBySession(ctx, session.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("lobby: load roster: %w", err)
	}
	wallets = make([]string, 0, len(players))
	for _, p := range players {
		byWallet[p.WalletAddress] = p
		wallets = append(wallets, p.WalletAddress)
	}
	if len(wallets) > 0 {
		if err := d.store.SAdd(ctx, key, wallets...); err != nil {
			slog.Warn("[Distributor] Failed to cache player set", "sessionID", session.ID, "error", err)
		}
	}
	return wallets, byWallet, nil
}
