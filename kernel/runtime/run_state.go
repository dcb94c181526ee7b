package runtime

import (
	"context"
	"errors"
	"strings"

	"github.com/OnslaughtSnail/rostra/kernel/session"
)

// RunState is the latest lifecycle snapshot for one session.
type RunState struct {
	// Running is true while the session's turn loop holds its lease.
	Running bool
	Status  RunLifecycleStatus
	State   session.State
	Turns   int
}

// RunState returns the lifecycle state of sessionID. Unknown or finished
// sessions report a zero RunState.
func (r *Runtime) RunState(ctx context.Context, sessionID string) (RunState, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return RunState{}, &ValidationError{Field: "sessionId", Message: "sessionId is required"}
	}
	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return RunState{}, nil
		}
		return RunState{}, err
	}
	out := RunState{
		Running: r.holdsLease(sessionID),
		State:   sess.State(),
		Turns:   sess.Turns(),
	}
	if out.Running {
		out.Status = RunLifecycleStatusRunning
	}
	return out, nil
}

// ActiveRuns counts turn loops currently running.
func (r *Runtime) ActiveRuns() int {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return len(r.activeRuns)
}

func (r *Runtime) holdsLease(sessionID string) bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	_, ok := r.activeRuns[sessionID]
	return ok
}
