// Package transcript mirrors debate transcripts to an optional sink.
//
// Persistence is best-effort: failures are logged and counted, never
// surfaced to the debate.
package transcript

import (
	"context"
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

// Record is the persisted form of one session.
type Record struct {
	SessionID string
	Topic     string
	Messages  []debate.Message
	SavedAt   time.Time
}

// Sink stores session transcripts.
type Sink interface {
	SaveSession(ctx context.Context, rec Record) error
}

// Nop discards every record.
type Nop struct{}

func (Nop) SaveSession(context.Context, Record) error { return nil }
