package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/model"
	"github.com/OnslaughtSnail/rostra/kernel/session"
)

const (
	// MessageAborted is the end text after a stop request.
	MessageAborted = "Debate aborted."
	// MessageEnded is the end text after a provider failure.
	MessageEnded = "Debate ended."
)

// RunLifecycleStatus is a machine-readable terminal status of a turn loop.
type RunLifecycleStatus string

const (
	RunLifecycleStatusRunning     RunLifecycleStatus = "running"
	RunLifecycleStatusInterrupted RunLifecycleStatus = "interrupted"
	RunLifecycleStatusFailed      RunLifecycleStatus = "failed"
	RunLifecycleStatusCompleted   RunLifecycleStatus = "completed"
)

func lifecycleStatusForError(err error) RunLifecycleStatus {
	if err == nil {
		return RunLifecycleStatusCompleted
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return RunLifecycleStatusInterrupted
	}
	return RunLifecycleStatusFailed
}

// endFor maps the loop's exit cause to its terminal event and state.
func endFor(status RunLifecycleStatus, turns int) (broadcast.Event, session.State) {
	switch status {
	case RunLifecycleStatusInterrupted:
		return broadcast.End(MessageAborted, broadcast.EndCancelled), session.StateCancelled
	case RunLifecycleStatusFailed:
		return broadcast.End(MessageEnded, broadcast.EndError), session.StateEnded
	default:
		return broadcast.End(concludedMessage(turns), broadcast.EndMaxTurns), session.StateEnded
	}
}

func concludedMessage(turns int) string {
	return fmt.Sprintf("Debate concluded after %d turns.", turns)
}

// errorText renders a provider failure for the error event.
func errorText(provider string, err error) string {
	msg := ""
	if pe, ok := model.AsProviderError(err); ok {
		if strings.TrimSpace(provider) == "" {
			provider = pe.Provider
		}
		msg = pe.Message
	}
	if strings.TrimSpace(msg) == "" && err != nil {
		msg = err.Error()
	}
	if strings.TrimSpace(provider) == "" {
		provider = "provider"
	}
	return fmt.Sprintf("Error with %s API: %s", provider, msg)
}
