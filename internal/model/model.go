package model

import "time"

// PlayerStatus tracks a player's standing inside a lobby.
type PlayerStatus string

const (
	PlayerStatusActive     PlayerStatus = "ACTIVE"
	PlayerStatusEliminated PlayerStatus = "ELIMINATED"
	PlayerStatusWinner     PlayerStatus = "WINNER"
)

// LobbyStatus tracks the lifecycle of a lobby in the hot store.
type LobbyStatus string

const (
	LobbyStatusActive    LobbyStatus = "ACTIVE"
	LobbyStatusInactive  LobbyStatus = "INACTIVE"
	LobbyStatusCompleted LobbyStatus = "COMPLETED"
)

// Vote choice tokens as submitted by players.
const (
	VoteContinue = "continue"
	VoteShare    = "share"
)

// Session is a scheduled, time-bounded game with registered players and a
// fixed number of rounds. Owned by the relational store; the worker only
// reads it.
type Session struct {
	ID              int64
	Name            string
	EntryFee        int64
	MaxTotalPlayers int
	TotalRounds     int
	StartTime       time.Time
	EndTime         time.Time
	CreatedAt       time.Time

	Rounds  []Round
	Players []Player
}

// RoundByNumber returns the round with the given 1-based number, or nil.
func (s *Session) RoundByNumber(n int) *Round {
	for i := range s.Rounds {
		if s.Rounds[i].Number == n {
			return &s.Rounds[i]
		}
	}
	return nil
}

// Round holds the eight wall-clock boundaries of one session round.
type Round struct {
	ID               int64
	SessionID        int64
	Number           int
	AIMessageStart   time.Time
	AIMessageEnd     time.Time
	StartTime        time.Time
	EndTime          time.Time
	EliminationStart time.Time
	EliminationEnd   time.Time
	VotingStartTime  time.Time
	VotingEndTime    time.Time
}

// Player is a wallet registration for a session.
type Player struct {
	ID                int64
	SessionID         int64
	WalletAddress     string
	JoinedAt          time.Time
	Status            PlayerStatus
	TotalRoundsPlayed int
}

// LobbySnapshot converts a registration into the per-lobby roster entry.
func (p Player) LobbySnapshot() LobbyPlayer {
	return LobbyPlayer{
		WalletAddress: p.WalletAddress,
		Status:        PlayerStatusActive,
		JoinedAt:      p.JoinedAt,
	}
}

// LobbyPlayer is a player's entry in a lobby roster. The status here is
// per-lobby and diverges from the registration status as rounds progress.
type LobbyPlayer struct {
	WalletAddress string       `json:"walletAddress"`
	Status        PlayerStatus `json:"status"`
	JoinedAt      time.Time    `json:"joinedAt"`
}

// Lobby is the ephemeral hot-store record grouping a partition of a
// session's players. The worker is its sole writer.
type Lobby struct {
	ID        string        `json:"id"`
	SessionID int64         `json:"sessionId"`
	Players   []LobbyPlayer `json:"players"`
	CreatedAt time.Time     `json:"createdAt"`
	Status    LobbyStatus   `json:"status"`
}

// ActiveWallets returns the wallets of players not yet eliminated.
func (l *Lobby) ActiveWallets() []string {
	wallets := make([]string, 0, len(l.Players))
	for _, p := range l.Players {
		if p.Status != PlayerStatusEliminated {
			wallets = append(wallets, p.WalletAddress)
		}
	}
	return wallets
}

// SetPlayerStatus updates the roster entry for wallet. Returns false when
// the wallet is not part of the lobby.
func (l *Lobby) SetPlayerStatus(wallet string, status PlayerStatus) bool {
	for i := range l.Players {
		if l.Players[i].WalletAddress == wallet {
			l.Players[i].Status = status
			return true
		}
	}
	return false
}

// PlayerState is the JSON blob stored under the per-player lobby key.
type PlayerState struct {
	Status PlayerStatus `json:"status"`
}

// EliminationRecord accumulates eliminated wallets for a lobby across
// rounds, in elimination order.
type EliminationRecord struct {
	EliminatedPlayers []string `json:"eliminatedPlayers"`
}

// TopicRecord is the cached AI round topic for a lobby.
type TopicRecord struct {
	TopicMessage string `json:"topicMessage"`
}
