package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

var ErrSessionNotFound = errors.New("session: not found")

// State is the debate state machine position.
type State string

const (
	StateIdle      State = "idle"
	StateAwaitingA State = "awaiting_a"
	StateAwaitingB State = "awaiting_b"
	StateEnded     State = "ended"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s State) Terminal() bool {
	return s == StateEnded || s == StateCancelled
}

// AwaitingState is the state entered while waiting on speaker's provider.
func AwaitingState(s debate.Speaker) State {
	if s == debate.SpeakerA {
		return StateAwaitingA
	}
	return StateAwaitingB
}

// Session is one debate instance.
//
// ID and Topic are immutable. Messages and the current turn are mutated
// only by the turn scheduler; the cancellation signal is owned by the
// session and shared read-only through Context.
type Session struct {
	ID        string
	Topic     string
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	messages []debate.Message
	turn     debate.Speaker
	turns    int
	state    State
}

// New creates an idle session whose cancellation derives from parent's
// values but not its deadline or cancellation.
func New(parent context.Context, id, topic string) *Session {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Session{
		ID:        id,
		Topic:     topic,
		CreatedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		turn:      debate.SpeakerA,
		state:     StateIdle,
	}
}

// Context is cancelled once the session is stopped.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Cancel triggers the session's cancellation signal. Idempotent.
func (s *Session) Cancel() {
	s.cancel()
}

// Cancelled reports whether Cancel has been called.
func (s *Session) Cancelled() bool {
	return s.ctx.Err() != nil
}

func (s *Session) CurrentTurn() debate.Speaker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn
}

// Turns is the number of completed provider turns.
func (s *Session) Turns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turns
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState moves the state machine. Terminal states are sticky.
func (s *Session) SetState(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = next
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []debate.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]debate.Message(nil), s.messages...)
}

// AppendOpening records the synthesized user message. It must be the first
// message of the session.
func (s *Session) AppendOpening(msg debate.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) != 0 {
		return fmt.Errorf("session: opening message must be first")
	}
	if msg.Role != debate.RoleUser {
		return fmt.Errorf("session: opening message role %q, want %q", msg.Role, debate.RoleUser)
	}
	s.messages = append(s.messages, msg)
	return nil
}

// CompleteTurn appends the finalized message of the current speaker and
// flips the turn.
func (s *Session) CompleteTurn(msg debate.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if want := s.turn.Role(); msg.Role != want {
		return fmt.Errorf("session: turn message role %q, want %q", msg.Role, want)
	}
	s.messages = append(s.messages, msg)
	s.turn = s.turn.Next()
	s.turns++
	return nil
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID          string           `json:"id"`
	Topic       string           `json:"topic"`
	State       State            `json:"state"`
	CurrentTurn string           `json:"currentTurn"`
	Turns       int              `json:"turns"`
	CreatedAt   time.Time        `json:"createdAt"`
	Messages    []debate.Message `json:"messages"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:          s.ID,
		Topic:       s.Topic,
		State:       s.state,
		CurrentTurn: s.turn.String(),
		Turns:       s.turns,
		CreatedAt:   s.CreatedAt,
		Messages:    append([]debate.Message(nil), s.messages...),
	}
}

// Store is the registry of active sessions.
//
// Remove cancels the session it removes; once removed, in-flight work
// observes cancellation through Session.Context.
type Store interface {
	Create(ctx context.Context, topic string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	Remove(ctx context.Context, id string) (*Session, bool)
	List(ctx context.Context) []*Session
}
