package worker

import "time"

// Broadcast channels. Lobby-scoped events go to per-lobby channels named
// by LobbyChannel.
const (
	ChannelSessions = "sessions"
	ChannelRounds   = "rounds"
)

// Broadcast event names.
const (
	EventSessionStart     = "session-start"
	EventSessionEnd       = "session-end"
	EventNewSession       = "new-session"
	EventAIMessageStart   = "ai-message-start"
	EventAIMessageEnd     = "ai-message-end"
	EventRoundStart       = "round-start"
	EventRoundEnd         = "round-end"
	EventEliminationStart = "elimination-start"
	EventEliminationEnd   = "elimination-end"
	EventVotingStart      = "voting-start"
	EventVotingResult     = "voting-result"
	EventGameEnd          = "game-end"
)

// FallbackTopic is broadcast verbatim when the oracle cannot produce a
// round announcement. Clients display it as-is.
const FallbackTopic = "Discuss your strategy!"

// Voting results as broadcast to clients.
const (
	ResultContinue = "continue"
	ResultShare    = "share"
)

const (
	msgEliminationEnded = "The elimination phase has ended."
	msgGameEnded        = "The game has ended!"
)

// LobbyChannel names the broadcast channel for one lobby.
func LobbyChannel(lobbyID string) string {
	return "lobby-" + lobbyID
}

type SessionStartPayload struct {
	SessionID int64     `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
}

type SessionEndPayload struct {
	SessionID int64     `json:"sessionId"`
	EndTime   time.Time `json:"endTime"`
}

type NewSessionPayload struct {
	SessionID int64     `json:"sessionId"`
	Name      string    `json:"name"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type AIMessageStartPayload struct {
	SessionID    int64  `json:"sessionId"`
	Round        int    `json:"round"`
	TopicMessage string `json:"topicMessage"`
}

type AIMessageEndPayload struct {
	SessionID   int64  `json:"sessionId"`
	RoundNumber int    `json:"roundNumber"`
	Message     string `json:"message"`
}

type RoundStartPayload struct {
	SessionID   int64     `json:"sessionId"`
	RoundNumber int       `json:"roundNumber"`
	StartTime   time.Time `json:"startTime"`
}

type RoundEndPayload struct {
	SessionID   int64 `json:"sessionId"`
	RoundNumber int   `json:"roundNumber"`
}

type VotingStartPayload struct {
	SessionID       int64     `json:"sessionId"`
	RoundNumber     int       `json:"roundNumber"`
	VotingStartTime time.Time `json:"votingStartTime"`
	VotingEndTime   time.Time `json:"votingEndTime"`
}

type EliminationStartPayload struct {
	EliminatedPlayers []string `json:"eliminatedPlayers"`
}

type EliminationEndPayload struct {
	LobbyID               string   `json:"lobbyId"`
	Message               string   `json:"message"`
	RemainingParticipants []string `json:"remainingParticipants"`
}

type VotingResultPayload struct {
	LobbyID string `json:"lobbyId"`
	Result  string `json:"result"`
}

type GameEndPayload struct {
	LobbyID string `json:"lobbyId"`
	Message string `json:"message"`
}

// SessionNotice is mirrored onto the hot store's sessions channel so
// backend services without a gateway connection see session boundaries.
type SessionNotice struct {
	Type      string    `json:"type"`
	SessionID int64     `json:"sessionId"`
	EndTime   time.Time `json:"endTime"`
}
