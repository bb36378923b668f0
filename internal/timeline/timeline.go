// Package timeline materializes a session's phase boundaries as an ordered
// event list. The worker builds it once per session and repeatedly asks for
// the next future event, which makes mid-session restarts trivially safe:
// events whose timestamps have passed are simply never returned.
package timeline

import (
	"log/slog"
	"sort"
	"time"

	"github.com/gauntlet/worker/internal/model"
)

// Phase names one of the ten boundary events of a session.
type Phase string

const (
	PhaseSessionStart     Phase = "SESSION_START"
	PhaseAIMessageStart   Phase = "AI_MESSAGE_START"
	PhaseAIMessageEnd     Phase = "AI_MESSAGE_END"
	PhaseRoundStart       Phase = "ROUND_START"
	PhaseRoundEnd         Phase = "ROUND_END"
	PhaseEliminationStart Phase = "ELIMINATION_START"
	PhaseEliminationEnd   Phase = "ELIMINATION_END"
	PhaseVotingStart      Phase = "VOTING_START"
	PhaseVotingEnd        Phase = "VOTING_END"
	PhaseSessionEnd       Phase = "SESSION_END"
)

// phaseRank is the canonical order used to break timestamp ties.
var phaseRank = map[Phase]int{
	PhaseSessionStart:     0,
	PhaseAIMessageStart:   1,
	PhaseAIMessageEnd:     2,
	PhaseRoundStart:       3,
	PhaseRoundEnd:         4,
	PhaseEliminationStart: 5,
	PhaseEliminationEnd:   6,
	PhaseVotingStart:      7,
	PhaseVotingEnd:        8,
	PhaseSessionEnd:       9,
}

// Event is one scheduled phase boundary. Round is the 1-based round number,
// 0 for the session-level events.
type Event struct {
	Phase Phase
	Time  time.Time
	Round int
}

// Timeline is the immutable, sorted event list for one session.
type Timeline struct {
	sessionID  int64
	events     []Event
	sessionEnd time.Time
}

// Build derives the timeline from a loaded session. SESSION_START is
// included only when now is still before the session start; SESSION_END is
// always present. Rounds contribute eight events each; a round timestamp
// missing from the database drops just that event, with a warning.
func Build(s *model.Session, now time.Time) *Timeline {
	events := make([]Event, 0, 2+8*len(s.Rounds))

	if now.Before(s.StartTime) {
		events = append(events, Event{PhaseSessionStart, s.StartTime, 0})
	}
	events = append(events, Event{PhaseSessionEnd, s.EndTime, 0})

	for _, r := range s.Rounds {
		for _, ev := range roundEvents(r) {
			if ev.Time.IsZero() {
				slog.Warn("[Timeline] Round phase timestamp missing, skipping event",
					"sessionID", s.ID, "round", r.Number, "phase", ev.Phase)
				continue
			}
			events = append(events, ev)
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if !events[i].Time.Equal(events[j].Time) {
			return events[i].Time.Before(events[j].Time)
		}
		if phaseRank[events[i].Phase] != phaseRank[events[j].Phase] {
			return phaseRank[events[i].Phase] < phaseRank[events[j].Phase]
		}
		return events[i].Round < events[j].Round
	})

	return &Timeline{sessionID: s.ID, events: events, sessionEnd: s.EndTime}
}

func roundEvents(r model.Round) []Event {
	return []Event{
		{PhaseAIMessageStart, r.AIMessageStart, r.Number},
		{PhaseAIMessageEnd, r.AIMessageEnd, r.Number},
		{PhaseRoundStart, r.StartTime, r.Number},
		{PhaseRoundEnd, r.EndTime, r.Number},
		{PhaseEliminationStart, r.EliminationStart, r.Number},
		{PhaseEliminationEnd, r.EliminationEnd, r.Number},
		{PhaseVotingStart, r.VotingStartTime, r.Number},
		{PhaseVotingEnd, r.VotingEndTime, r.Number},
	}
}

// Next returns the earliest event strictly after now, or nil once now has
// reached the session end.
func (t *Timeline) Next(now time.Time) *Event {
	if !now.Before(t.sessionEnd) {
		return nil
	}
	for i := range t.events {
		if t.events[i].Time.After(now) {
			ev := t.events[i]
			return &ev
		}
	}
	return nil
}

// Events returns a copy of the full schedule, for status reporting.
func (t *Timeline) Events() []Event {
	return append([]Event(nil), t.events...)
}

// End returns the session end instant.
func (t *Timeline) End() time.Time {
	return t.sessionEnd
}
