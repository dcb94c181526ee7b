package runtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/debate"
	"github.com/OnslaughtSnail/rostra/kernel/session"
	"github.com/OnslaughtSnail/rostra/kernel/transcript"
)

const (
	defaultPacingDelay     = 2 * time.Second
	defaultMaxOutputTokens = 200
)

// Observer receives lifecycle notifications, typically for metrics.
type Observer interface {
	SessionStarted()
	SessionStopped()
	SessionEnded(reason broadcast.EndReason)
	TurnCompleted(speaker debate.Speaker, provider string, elapsed time.Duration)
	ProviderFailed(provider string)
}

type nopObserver struct{}

func (nopObserver) SessionStarted()                                     {}
func (nopObserver) SessionStopped()                                     {}
func (nopObserver) SessionEnded(broadcast.EndReason)                    {}
func (nopObserver) TurnCompleted(debate.Speaker, string, time.Duration) {}
func (nopObserver) ProviderFailed(string)                               {}

// Config configures Runtime.
type Config struct {
	Store       session.Store
	Broadcaster *broadcast.Broadcaster
	Lineup      debate.Lineup

	MaxOutputTokens int
	// PacingDelay between turns. Negative disables pacing.
	PacingDelay time.Duration
	// MaxTurns ends a debate after this many completed turns. Zero runs
	// until stopped.
	MaxTurns int
	// SubscriberWait bounds how long a new session waits for its first
	// subscriber before producing events. Zero does not wait.
	SubscriberWait time.Duration
	AllowBulkStop  bool

	Transcript *transcript.Writer
	Logger     *logging.Logger
	Observer   Observer
}

// Runtime runs debate sessions. It is the Session API: Start, Stop and
// Snapshot are safe for concurrent use.
type Runtime struct {
	store           session.Store
	broadcaster     *broadcast.Broadcaster
	lineup          debate.Lineup
	maxOutputTokens int
	pacing          time.Duration
	maxTurns        int
	subscriberWait  time.Duration
	allowBulkStop   bool
	transcript      *transcript.Writer
	logger          *logging.Logger
	observer        Observer

	runMu      sync.Mutex
	activeRuns map[string]struct{}
	closing    bool
	wg         sync.WaitGroup
}

func New(cfg Config) (*Runtime, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runtime: store is nil")
	}
	if cfg.Broadcaster == nil {
		return nil, fmt.Errorf("runtime: broadcaster is nil")
	}
	if err := cfg.Lineup.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: %w", err)
	}
	if cfg.MaxTurns < 0 {
		return nil, fmt.Errorf("runtime: max turns must be >= 0")
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = defaultMaxOutputTokens
	}
	if cfg.PacingDelay == 0 {
		cfg.PacingDelay = defaultPacingDelay
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	return &Runtime{
		store:           cfg.Store,
		broadcaster:     cfg.Broadcaster,
		lineup:          cfg.Lineup,
		maxOutputTokens: cfg.MaxOutputTokens,
		pacing:          cfg.PacingDelay,
		maxTurns:        cfg.MaxTurns,
		subscriberWait:  cfg.SubscriberWait,
		allowBulkStop:   cfg.AllowBulkStop,
		transcript:      cfg.Transcript,
		logger:          logging.OrNop(cfg.Logger).Named("runtime"),
		observer:        cfg.Observer,
		activeRuns:      map[string]struct{}{},
	}, nil
}

// Start creates a session for topic and runs it in the background. It
// returns as soon as the session is registered.
func (r *Runtime) Start(ctx context.Context, topic string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "", &ValidationError{Field: "topic", Message: "topic is required"}
	}
	r.runMu.Lock()
	if r.closing {
		r.runMu.Unlock()
		return "", ErrShuttingDown
	}
	r.wg.Add(1)
	r.runMu.Unlock()

	sess, err := r.store.Create(ctx, topic)
	if err != nil {
		r.wg.Done()
		return "", err
	}
	r.broadcaster.Open(sess.ID)
	if !r.acquireRunLease(sess.ID) {
		r.wg.Done()
		r.broadcaster.Close(sess.ID)
		return "", &SessionBusyError{SessionID: sess.ID}
	}
	go func() {
		defer r.wg.Done()
		defer r.releaseRunLease(sess.ID)
		r.run(sess)
	}()
	r.observer.SessionStarted()
	r.logger.Info(logging.WithSessionID(ctx, sess.ID), "debate started", zap.String("topic", topic))

	// Shutdown may have listed sessions before this one was stored.
	r.runMu.Lock()
	closing := r.closing
	r.runMu.Unlock()
	if closing {
		r.stopOne(ctx, sess.ID)
		return "", ErrShuttingDown
	}
	return sess.ID, nil
}

// Stop cancels and removes a session. An empty id stops every session
// when bulk stop is allowed. Unknown ids are a no-op.
func (r *Runtime) Stop(ctx context.Context, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID != "" {
		r.stopOne(ctx, sessionID)
		return nil
	}
	if !r.allowBulkStop {
		return &ValidationError{Field: "sessionId", Message: "sessionId is required"}
	}
	r.stopAll(ctx)
	return nil
}

func (r *Runtime) stopOne(ctx context.Context, sessionID string) bool {
	if _, err := r.store.Get(ctx, sessionID); err != nil {
		return false
	}
	// Seal before cancelling so nothing but end reaches the subscriber once
	// Stop returns.
	r.broadcaster.Seal(sessionID)
	if _, ok := r.store.Remove(ctx, sessionID); !ok {
		return false
	}
	r.observer.SessionStopped()
	r.logger.Info(logging.WithSessionID(ctx, sessionID), "debate stop requested")
	return true
}

func (r *Runtime) stopAll(ctx context.Context) int {
	stopped := 0
	for _, sess := range r.store.List(ctx) {
		if r.stopOne(ctx, sess.ID) {
			stopped++
		}
	}
	return stopped
}

// Snapshot returns the live state of an active session.
func (r *Runtime) Snapshot(ctx context.Context, sessionID string) (session.Snapshot, error) {
	sess, err := r.store.Get(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return session.Snapshot{}, err
	}
	return sess.Snapshot(), nil
}

// Subscribe attaches the stream subscriber for sessionID.
func (r *Runtime) Subscribe(sessionID string) (*broadcast.Subscription, error) {
	return r.broadcaster.Subscribe(strings.TrimSpace(sessionID))
}

// Shutdown refuses new sessions, stops the running ones and waits for their
// loops to exit or ctx to end.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.runMu.Lock()
	r.closing = true
	r.runMu.Unlock()
	r.stopAll(ctx)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the turn loop of one session. Exactly one terminal event is
// published on every exit path and nothing follows it.
func (r *Runtime) run(sess *session.Session) {
	ctx := logging.WithSessionID(sess.Context(), sess.ID)
	status, err := r.loop(ctx, sess)

	turns := sess.Turns()
	if status == RunLifecycleStatusFailed {
		provider := r.lineup.For(sess.CurrentTurn()).Provider
		r.observer.ProviderFailed(provider)
		r.logger.Warn(ctx, "provider failed", zap.String("provider", provider), zap.Error(err))
		r.broadcaster.Publish(sess.ID, broadcast.Error(errorText(provider, err)))
	}
	end, state := endFor(status, turns)
	sess.SetState(state)
	r.store.Remove(context.WithoutCancel(ctx), sess.ID)
	r.broadcaster.Publish(sess.ID, end)
	r.broadcaster.Close(sess.ID)
	r.persist(sess)

	reason := end.Data.(broadcast.EndData).Reason
	r.observer.SessionEnded(reason)
	r.logger.Info(ctx, "debate ended", zap.String("reason", string(reason)), zap.Int("turns", turns))
}

func (r *Runtime) loop(ctx context.Context, sess *session.Session) (RunLifecycleStatus, error) {
	if r.subscriberWait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, r.subscriberWait)
		err := r.broadcaster.WaitSubscriber(waitCtx, sess.ID)
		cancel()
		if err != nil && ctx.Err() == nil {
			r.logger.Info(ctx, "no subscriber attached, continuing", zap.Duration("waited", r.subscriberWait))
		}
	}
	if err := ctx.Err(); err != nil {
		return RunLifecycleStatusInterrupted, err
	}

	opening := debate.Message{ID: uuid.NewString(), Role: debate.RoleUser, Content: debate.OpeningMessage(sess.Topic)}
	if err := sess.AppendOpening(opening); err != nil {
		return RunLifecycleStatusFailed, err
	}
	r.broadcaster.Publish(sess.ID, broadcast.Message(broadcast.MessageData{
		ID: opening.ID, Role: opening.Role, Content: opening.Content, Final: true,
	}))

	for {
		if err := ctx.Err(); err != nil {
			return RunLifecycleStatusInterrupted, err
		}
		if err := r.turn(ctx, sess); err != nil {
			// A stop during the stream surfaces as a provider or context
			// error; the session's own signal decides which it was.
			if ctx.Err() != nil {
				return RunLifecycleStatusInterrupted, ctx.Err()
			}
			return lifecycleStatusForError(err), err
		}
		r.persist(sess)
		if r.maxTurns > 0 && sess.Turns() >= r.maxTurns {
			return RunLifecycleStatusCompleted, nil
		}
		if err := pace(ctx, r.pacing); err != nil {
			return RunLifecycleStatusInterrupted, err
		}
	}
}

// turn runs one speaker's provider call and streams its cumulative output.
func (r *Runtime) turn(ctx context.Context, sess *session.Session) error {
	speaker := sess.CurrentTurn()
	p := r.lineup.For(speaker)
	sess.SetState(session.AwaitingState(speaker))

	req := debate.Request(sess.Messages(), speaker, r.maxOutputTokens)
	msg := debate.Message{ID: uuid.NewString(), Role: speaker.Role()}
	started := time.Now()

	var buf strings.Builder
	final := ""
	for resp, err := range p.LLM.Generate(ctx, req) {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if resp == nil {
			continue
		}
		if resp.TurnComplete {
			final = resp.Message.Text
			continue
		}
		if resp.Message.Text == "" {
			continue
		}
		buf.WriteString(resp.Message.Text)
		r.broadcaster.Publish(sess.ID, broadcast.Message(broadcast.MessageData{
			ID: msg.ID, Role: msg.Role, Content: buf.String(),
		}))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg.Content = buf.String()
	// Adapters that do not stream only report the final text. It must
	// extend what was already sent to keep prefixes monotonic.
	if len(final) > len(msg.Content) && strings.HasPrefix(final, msg.Content) {
		msg.Content = final
	}
	r.broadcaster.Publish(sess.ID, broadcast.Message(broadcast.MessageData{
		ID: msg.ID, Role: msg.Role, Content: msg.Content, Final: true,
	}))
	if err := sess.CompleteTurn(msg); err != nil {
		return err
	}
	elapsed := time.Since(started)
	r.observer.TurnCompleted(speaker, p.Provider, elapsed)
	r.logger.Debug(ctx, "turn completed",
		zap.String("speaker", speaker.String()),
		zap.String("provider", p.Provider),
		zap.Int("chars", len(msg.Content)),
		zap.Duration("elapsed", elapsed),
	)
	return nil
}

func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ctx.Err()
	}
}

func (r *Runtime) persist(sess *session.Session) {
	if r.transcript == nil {
		return
	}
	r.transcript.Enqueue(transcript.Record{
		SessionID: sess.ID,
		Topic:     sess.Topic,
		Messages:  sess.Messages(),
		SavedAt:   time.Now(),
	})
}

func (r *Runtime) acquireRunLease(key string) bool {
	if r == nil || strings.TrimSpace(key) == "" {
		return false
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.activeRuns == nil {
		r.activeRuns = map[string]struct{}{}
	}
	if _, exists := r.activeRuns[key]; exists {
		return false
	}
	r.activeRuns[key] = struct{}{}
	return true
}

func (r *Runtime) releaseRunLease(key string) {
	if r == nil || strings.TrimSpace(key) == "" {
		return
	}
	r.runMu.Lock()
	defer r.runMu.Unlock()
	delete(r.activeRuns, key)
}
