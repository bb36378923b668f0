package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gauntlet/worker/internal/hotstore"
	"github.com/gauntlet/worker/internal/model"
	"github.com/gauntlet/worker/internal/oracle"
	"github.com/gauntlet/worker/internal/timeline"
)

// handle routes one timeline event to its phase handler.
func (w *Worker) handle(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	switch evt.Phase {
	case timeline.PhaseSessionStart:
		return w.handleSessionStart(ctx, s)
	case timeline.PhaseAIMessageStart:
		return w.handleAIMessageStart(ctx, s, evt)
	case timeline.PhaseAIMessageEnd:
		return w.handleAIMessageEnd(ctx, s, evt)
	case timeline.PhaseRoundStart:
		return w.handleRoundStart(ctx, s, evt)
	case timeline.PhaseRoundEnd:
		return w.handleRoundEnd(ctx, s, evt)
	case timeline.PhaseEliminationStart:
		return w.handleEliminationStart(ctx, s, evt)
	case timeline.PhaseEliminationEnd:
		return w.handleEliminationEnd(ctx, s)
	case timeline.PhaseVotingStart:
		return w.handleVotingStart(ctx, s, evt)
	case timeline.PhaseVotingEnd:
		return w.handleVotingEnd(ctx, s, evt)
	case timeline.PhaseSessionEnd:
		return w.handleSessionEnd(ctx, s)
	default:
		return fmt.Errorf("worker: unknown phase %q", evt.Phase)
	}
}

// handleSessionStart purges stale hot state, seats the registered players
// into lobbies, and announces the session.
func (w *Worker) handleSessionStart(ctx context.Context, s *model.Session) error {
	if err := w.lobbies.PurgeSession(ctx, s.ID, w.cfg.PurgeFlush); err != nil {
		return err
	}

	lobbies, err := w.dist.Distribute(ctx, s, w.cfg.LobbyCapacity)
	if err != nil {
		return err
	}
	if len(lobbies) == 0 {
		slog.Warn("[Worker] No registered players, session starts without lobbies", "sessionID", s.ID)
	}
	w.metrics.ActiveLobbies.Set(float64(len(lobbies)))

	w.bus.Publish(ctx, ChannelSessions, EventSessionStart, SessionStartPayload{
		SessionID: s.ID,
		StartTime: s.StartTime,
	})
	slog.Info("[Worker] Session started", "sessionID", s.ID, "lobbies", len(lobbies))
	return nil
}

// handleAIMessageStart asks the oracle for the round topic. Failure falls
// back to the canned topic so the round never opens silent.
func (w *Worker) handleAIMessageStart(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	start := time.Now()
	topic, err := w.oracle.RoundAnnouncement(ctx, w.cfg.AgentID, evt.Round)
	w.metrics.RecordOracleRequest("roundAnnouncement", outcome(err), time.Since(start).Seconds())

	if err != nil || topic == "" {
		if err != nil {
			slog.Error("[Worker] Round announcement failed, using fallback topic",
				"sessionID", s.ID, "round", evt.Round, "error", err)
		} else {
			slog.Warn("[Worker] Oracle returned empty topic, using fallback",
				"sessionID", s.ID, "round", evt.Round)
		}
		w.bus.Publish(ctx, ChannelRounds, EventAIMessageStart, AIMessageStartPayload{
			SessionID:    s.ID,
			Round:        evt.Round,
			TopicMessage: FallbackTopic,
		})
		return nil
	}

	lobbies, lerr := w.lobbies.GetActiveLobbies(ctx, s.ID)
	if lerr != nil {
		slog.Error("[Worker] Cannot list lobbies for topic caching", "sessionID", s.ID, "error", lerr)
	}
	for _, lb := range lobbies {
		if cerr := w.lobbies.CacheTopic(ctx, s.ID, evt.Round, lb.ID, topic); cerr != nil {
			slog.Error("[Worker] Failed to cache topic", "lobbyID", lb.ID, "error", cerr)
		}
	}

	w.bus.Publish(ctx, ChannelRounds, EventAIMessageStart, AIMessageStartPayload{
		SessionID:    s.ID,
		Round:        evt.Round,
		TopicMessage: topic,
	})
	slog.Info("[Worker] Round topic announced", "sessionID", s.ID, "round", evt.Round)
	return nil
}

// handleAIMessageEnd closes the announcement window, echoing the cached
// topic so late subscribers still see it.
func (w *Worker) handleAIMessageEnd(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	message := FallbackTopic
	lobbies, err := w.lobbies.GetActiveLobbies(ctx, s.ID)
	if err != nil {
		slog.Error("[Worker] Cannot list lobbies for topic lookup", "sessionID", s.ID, "error", err)
	}
	if len(lobbies) > 0 {
		topic, terr := w.lobbies.CachedTopic(ctx, s.ID, evt.Round, lobbies[0].ID)
		switch {
		case terr == nil && topic != "":
			message = topic
		case terr != nil && !errors.Is(terr, hotstore.ErrNotFound):
			slog.Error("[Worker] Cannot read cached topic", "sessionID", s.ID, "round", evt.Round, "error", terr)
		}
	}

	w.bus.Publish(ctx, ChannelRounds, EventAIMessageEnd, AIMessageEndPayload{
		SessionID:   s.ID,
		RoundNumber: evt.Round,
		Message:     message,
	})
	return nil
}

func (w *Worker) handleRoundStart(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	w.bus.Publish(ctx, ChannelRounds, EventRoundStart, RoundStartPayload{
		SessionID:   s.ID,
		RoundNumber: evt.Round,
		StartTime:   evt.Time,
	})
	slog.Info("[Worker] Round started", "sessionID", s.ID, "round", evt.Round)
	return nil
}

func (w *Worker) handleRoundEnd(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	w.bus.Publish(ctx, ChannelSessions, EventRoundEnd, RoundEndPayload{
		SessionID:   s.ID,
		RoundNumber: evt.Round,
	})
	slog.Info("[Worker] Round ended", "sessionID", s.ID, "round", evt.Round)
	return nil
}

// handleEliminationStart fans the elimination decision out across active
// lobbies. A failed lobby is logged and left unchanged; the others
// proceed.
func (w *Worker) handleEliminationStart(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	return w.forEachActiveLobby(ctx, s.ID, string(evt.Phase), func(lb *model.Lobby) error {
		return w.eliminateLobby(ctx, s, evt.Round, lb)
	})
}

func (w *Worker) eliminateLobby(ctx context.Context, s *model.Session, round int, lb *model.Lobby) error {
	start := time.Now()
	decision, err := w.oracle.DecideEliminations(ctx, oracle.DecisionRequest{
		AgentID:      w.cfg.AgentID,
		SessionID:    s.ID,
		LobbyID:      lb.ID,
		MaxRounds:    s.TotalRounds,
		CurrentRound: round,
	})
	w.metrics.RecordOracleRequest("decideEliminations", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("decide eliminations: %w", err)
	}
	if !decision.Success {
		slog.Warn("[Worker] Oracle declined elimination decision", "lobbyID", lb.ID, "round", round)
		return nil
	}

	active := make(map[string]bool, len(lb.Players))
	for _, wallet := range lb.ActiveWallets() {
		active[wallet] = true
	}

	newly := make([]string, 0, len(decision.Eliminated))
	for _, e := range decision.Eliminated {
		if !active[e.Participant] {
			slog.Warn("[Worker] Oracle named an inactive wallet, ignoring",
				"lobbyID", lb.ID, "wallet", e.Participant)
			continue
		}
		active[e.Participant] = false
		newly = append(newly, e.Participant)
		slog.Info("[Worker] Player eliminated",
			"lobbyID", lb.ID, "wallet", e.Participant, "round", round, "reason", e.Reason)
	}

	if len(newly) > 0 {
		for _, wallet := range newly {
			lb.SetPlayerStatus(wallet, model.PlayerStatusEliminated)
		}
		if err := w.lobbies.UpdateLobby(ctx, lb); err != nil {
			return err
		}
		for _, wallet := range newly {
			if err := w.lobbies.SetPlayerStatus(ctx, lb.ID, wallet, model.PlayerStatusEliminated); err != nil {
				slog.Error("[Worker] Failed to persist player status",
					"lobbyID", lb.ID, "wallet", wallet, "error", err)
			}
		}
		if _, err := w.lobbies.AppendElimination(ctx, lb.ID, newly); err != nil {
			slog.Error("[Worker] Failed to append elimination record", "lobbyID", lb.ID, "error", err)
		}
	}

	w.bus.Publish(ctx, LobbyChannel(lb.ID), EventEliminationStart, EliminationStartPayload{
		EliminatedPlayers: newly,
	})
	return nil
}

// handleEliminationEnd closes the elimination window per lobby and ends
// the game for lobbies down to one player or fewer.
func (w *Worker) handleEliminationEnd(ctx context.Context, s *model.Session) error {
	return w.forEachActiveLobby(ctx, s.ID, string(timeline.PhaseEliminationEnd), func(lb *model.Lobby) error {
		return w.settleLobby(ctx, lb)
	})
}

func (w *Worker) settleLobby(ctx context.Context, lb *model.Lobby) error {
	remaining := lb.ActiveWallets()
	w.bus.Publish(ctx, LobbyChannel(lb.ID), EventEliminationEnd, EliminationEndPayload{
		LobbyID:               lb.ID,
		Message:               msgEliminationEnded,
		RemainingParticipants: remaining,
	})
	if len(remaining) > 1 {
		return nil
	}

	if len(remaining) == 1 {
		winner := remaining[0]
		lb.SetPlayerStatus(winner, model.PlayerStatusWinner)
		if err := w.lobbies.SetPlayerStatus(ctx, lb.ID, winner, model.PlayerStatusWinner); err != nil {
			slog.Error("[Worker] Failed to persist winner status",
				"lobbyID", lb.ID, "wallet", winner, "error", err)
		}
		slog.Info("[Worker] Sole survivor wins the lobby", "lobbyID", lb.ID, "wallet", winner)
	} else {
		slog.Warn("[Worker] Lobby has no active players left", "lobbyID", lb.ID)
	}

	lb.Status = model.LobbyStatusCompleted
	if err := w.lobbies.UpdateLobby(ctx, lb); err != nil {
		return err
	}
	w.bus.Publish(ctx, LobbyChannel(lb.ID), EventGameEnd, GameEndPayload{
		LobbyID: lb.ID,
		Message: msgGameEnded,
	})
	return nil
}

// handleVotingStart clears any stale votes, then opens the voting window
// with a single session-wide broadcast.
func (w *Worker) handleVotingStart(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	round := s.RoundByNumber(evt.Round)
	if round == nil {
		return fmt.Errorf("worker: session %d has no round %d", s.ID, evt.Round)
	}

	lobbies, err := w.lobbies.GetActiveLobbies(ctx, s.ID)
	if err != nil {
		return err
	}
	for _, lb := range lobbies {
		if cerr := w.lobbies.ClearVotes(ctx, s.ID, lb.ID, evt.Round); cerr != nil {
			slog.Error("[Worker] Failed to clear stale votes", "lobbyID", lb.ID, "error", cerr)
		}
	}

	w.bus.Publish(ctx, ChannelRounds, EventVotingStart, VotingStartPayload{
		SessionID:       s.ID,
		RoundNumber:     evt.Round,
		VotingStartTime: round.VotingStartTime,
		VotingEndTime:   round.VotingEndTime,
	})
	slog.Info("[Worker] Voting opened", "sessionID", s.ID, "round", evt.Round, "lobbies", len(lobbies))
	return nil
}

// handleVotingEnd tallies each lobby. Continue wins ties; a share
// majority ends the lobby with everyone still active marked a winner.
func (w *Worker) handleVotingEnd(ctx context.Context, s *model.Session, evt *timeline.Event) error {
	return w.forEachActiveLobby(ctx, s.ID, string(evt.Phase), func(lb *model.Lobby) error {
		return w.tallyLobby(ctx, s, evt.Round, lb)
	})
}

func (w *Worker) tallyLobby(ctx context.Context, s *model.Session, round int, lb *model.Lobby) error {
	results, err := w.lobbies.GetVotingResults(ctx, s.ID, lb.ID, round)
	if err != nil {
		return err
	}
	continues, shares := results[model.VoteContinue], results[model.VoteShare]
	slog.Info("[Worker] Voting closed",
		"lobbyID", lb.ID, "round", round, "continue", continues, "share", shares)

	if continues >= shares {
		w.bus.Publish(ctx, LobbyChannel(lb.ID), EventVotingResult, VotingResultPayload{
			LobbyID: lb.ID,
			Result:  ResultContinue,
		})
	} else {
		w.bus.Publish(ctx, LobbyChannel(lb.ID), EventVotingResult, VotingResultPayload{
			LobbyID: lb.ID,
			Result:  ResultShare,
		})
		winners := lb.ActiveWallets()
		for _, wallet := range winners {
			lb.SetPlayerStatus(wallet, model.PlayerStatusWinner)
			if err := w.lobbies.SetPlayerStatus(ctx, lb.ID, wallet, model.PlayerStatusWinner); err != nil {
				slog.Error("[Worker] Failed to persist winner status",
					"lobbyID", lb.ID, "wallet", wallet, "error", err)
			}
		}
		lb.Status = model.LobbyStatusCompleted
		if err := w.lobbies.UpdateLobby(ctx, lb); err != nil {
			return err
		}
		slog.Info("[Worker] Lobby voted to share the pot", "lobbyID", lb.ID, "winners", len(winners))
	}

	if err := w.lobbies.ClearVotes(ctx, s.ID, lb.ID, round); err != nil {
		slog.Error("[Worker] Failed to clear vote key", "lobbyID", lb.ID, "round", round, "error", err)
	}
	return nil
}

// handleSessionEnd announces the end, mirrors a notice onto the hot-store
// sessions channel, and purges everything the session wrote.
func (w *Worker) handleSessionEnd(ctx context.Context, s *model.Session) error {
	w.bus.Publish(ctx, ChannelSessions, EventSessionEnd, SessionEndPayload{
		SessionID: s.ID,
		EndTime:   s.EndTime,
	})

	notice, err := json.Marshal(SessionNotice{
		Type:      string(timeline.PhaseSessionEnd),
		SessionID: s.ID,
		EndTime:   s.EndTime,
	})
	if err == nil {
		if perr := w.store.Publish(ctx, hotstore.ChannelSessions, notice); perr != nil {
			slog.Error("[Worker] Failed to publish session notice", "sessionID", s.ID, "error", perr)
		}
	}

	if err := w.lobbies.PurgeSession(ctx, s.ID, w.cfg.PurgeFlush); err != nil {
		return err
	}
	w.metrics.ActiveLobbies.Set(0)
	slog.Info("[Worker] Session ended", "sessionID", s.ID)
	return nil
}

// forEachActiveLobby runs fn per active lobby with bounded parallelism.
// Per-lobby failures are logged, not propagated: one stuck lobby must not
// stall the others.
func (w *Worker) forEachActiveLobby(ctx context.Context, sessionID int64, phase string, fn func(*model.Lobby) error) error {
	lobbies, err := w.lobbies.GetActiveLobbies(ctx, sessionID)
	if err != nil {
		return err
	}
	w.metrics.ActiveLobbies.Set(float64(len(lobbies)))
	if len(lobbies) == 0 {
		slog.Warn("[Worker] No active lobbies", "phase", phase, "sessionID", sessionID)
		return nil
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.PhaseParallelism)
	for _, lb := range lobbies {
		g.Go(func() error {
			if err := fn(lb); err != nil {
				slog.Error("[Worker] Lobby step failed",
					"phase", phase, "lobbyID", lb.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
