package worker

import (
	"time"

	"github.com/gauntlet/worker/internal/timeline"
)

// Status is the operator-facing snapshot served on /status.
type Status struct {
	InstanceID        string    `json:"instanceId"`
	State             string    `json:"state"`
	SessionID         int64     `json:"sessionId,omitempty"`
	SessionName       string    `json:"sessionName,omitempty"`
	NextPhase         string    `json:"nextPhase,omitempty"`
	NextPhaseAt       time.Time `json:"nextPhaseAt,omitzero"`
	NextRound         int       `json:"nextRound,omitempty"`
	CompletedSessions []int64   `json:"completedSessions"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Worker states as reported in Status.
const (
	StateSelecting  = "selecting"
	StateWaiting    = "waiting"
	StateMonitoring = "monitoring"
	StateStopped    = "stopped"
)

// Status returns a copy of the current snapshot.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	snapshot := w.status
	snapshot.CompletedSessions = make([]int64, len(w.status.CompletedSessions))
	copy(snapshot.CompletedSessions, w.status.CompletedSessions)
	return snapshot
}

func (w *Worker) setState(state string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
	if state != StateMonitoring {
		w.status.SessionID = 0
		w.status.SessionName = ""
		w.status.NextPhase = ""
		w.status.NextPhaseAt = time.Time{}
		w.status.NextRound = 0
	}
	w.status.UpdatedAt = w.clock.Now().UTC()
}

func (w *Worker) setSession(id int64, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = StateMonitoring
	w.status.SessionID = id
	w.status.SessionName = name
	w.status.UpdatedAt = w.clock.Now().UTC()
}

func (w *Worker) setNextEvent(evt *timeline.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.NextPhase = string(evt.Phase)
	w.status.NextPhaseAt = evt.Time
	w.status.NextRound = evt.Round
	w.status.UpdatedAt = w.clock.Now().UTC()
}

func (w *Worker) markCompleted(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.completed[id] = true
	w.status.CompletedSessions = append(w.status.CompletedSessions, id)
	w.status.UpdatedAt = w.clock.Now().UTC()
}

func (w *Worker) completedSet() map[int64]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	set := make(map[int64]bool, len(w.completed))
	for id := range w.completed {
		set[id] = true
	}
	return set
}
