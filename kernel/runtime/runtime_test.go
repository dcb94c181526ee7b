package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/broadcast"
	"github.com/OnslaughtSnail/rostra/kernel/debate"
	"github.com/OnslaughtSnail/rostra/kernel/model"
	"github.com/OnslaughtSnail/rostra/kernel/session"
	"github.com/OnslaughtSnail/rostra/kernel/session/inmemory"
	"github.com/OnslaughtSnail/rostra/kernel/transcript"
)

func newTestRuntime(t *testing.T, a, b model.LLM, mutate func(*Config)) (*Runtime, *inmemory.Store) {
	t.Helper()
	store := inmemory.New()
	cfg := Config{
		Store:       store,
		Broadcaster: broadcast.New(broadcast.Config{HeartbeatInterval: -1, Buffer: 256}),
		Lineup: debate.Lineup{
			A: debate.Participant{Speaker: debate.SpeakerA, LLM: a, Provider: "OpenAI"},
			B: debate.Participant{Speaker: debate.SpeakerB, LLM: b, Provider: "Gemini"},
		},
		PacingDelay:    -1,
		SubscriberWait: 2 * time.Second,
		AllowBulkStop:  true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.Shutdown(ctx)
	})
	return rt, store
}

// collect reads the subscription until it closes and fails if anything
// follows the end event.
func collect(t *testing.T, sub *broadcast.Subscription) []broadcast.Event {
	t.Helper()
	var out []broadcast.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				if len(out) == 0 || out[len(out)-1].Type != broadcast.EventEnd {
					t.Fatalf("stream closed without trailing end event: %+v", out)
				}
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out collecting events, got %+v", out)
			return nil
		}
	}
}

func messages(events []broadcast.Event) []broadcast.MessageData {
	var out []broadcast.MessageData
	for _, ev := range events {
		if ev.Type == broadcast.EventMessage {
			out = append(out, ev.Data.(broadcast.MessageData))
		}
	}
	return out
}

func finals(events []broadcast.Event) []broadcast.MessageData {
	var out []broadcast.MessageData
	for _, m := range messages(events) {
		if m.Final {
			out = append(out, m)
		}
	}
	return out
}

func endOf(t *testing.T, events []broadcast.Event) broadcast.EndData {
	t.Helper()
	last := events[len(events)-1]
	if last.Type != broadcast.EventEnd {
		t.Fatalf("expected end last, got %+v", last)
	}
	return last.Data.(broadcast.EndData)
}

func startAndSubscribe(t *testing.T, rt *Runtime, topic string) (string, *broadcast.Subscription) {
	t.Helper()
	id, err := rt.Start(context.Background(), topic)
	if err != nil {
		t.Fatal(err)
	}
	sub, err := rt.Subscribe(id)
	if err != nil {
		t.Fatal(err)
	}
	return id, sub
}

func TestNew_Validates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error for missing store")
	}
	_, err := New(Config{
		Store:       inmemory.New(),
		Broadcaster: broadcast.New(broadcast.Config{}),
	})
	if err == nil {
		t.Fatal("expected error for empty lineup")
	}
}

func TestStart_RejectsEmptyTopic(t *testing.T) {
	rt, store := newTestRuntime(t, newRuntimeTestLLM("a"), newRuntimeTestLLM("b"), nil)
	if _, err := rt.Start(context.Background(), "   "); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no session created, got %d", store.Len())
	}
}

func TestRuntime_OpeningThenGrowingSpeakerMessages(t *testing.T) {
	a := newRuntimeTestLLM("a", "Cats ", "are ", "best.")
	b := newRuntimeTestLLM("b", "Dogs ", "win.")
	rt, store := newTestRuntime(t, a, b, func(cfg *Config) { cfg.MaxTurns = 2 })

	id, sub := startAndSubscribe(t, rt, "cats vs dogs")
	events := collect(t, sub)

	if events[0].Type != broadcast.EventConnected {
		t.Fatalf("expected connected first, got %+v", events[0])
	}
	msgs := messages(events)
	if len(msgs) == 0 || msgs[0].Role != debate.RoleUser || !strings.Contains(msgs[0].Content, "cats vs dogs") {
		t.Fatalf("expected user opening first, got %+v", msgs)
	}
	var seenB bool
	prefix := map[string]string{}
	for _, m := range msgs[1:] {
		if m.Role == debate.RoleSpeakerB {
			seenB = true
		} else if seenB {
			t.Fatalf("speaker A message after speaker B within two turns: %+v", m)
		}
		prev := prefix[m.ID]
		if !strings.HasPrefix(m.Content, prev) || len(m.Content) < len(prev) {
			t.Fatalf("content for %s did not grow monotonically: %q -> %q", m.ID, prev, m.Content)
		}
		prefix[m.ID] = m.Content
	}
	if !seenB {
		t.Fatal("expected speaker B to take a turn")
	}
	fin := finals(events)
	if len(fin) != 3 || fin[1].Content != "Cats are best." || fin[2].Content != "Dogs win." {
		t.Fatalf("unexpected finalized messages %+v", fin)
	}
	end := endOf(t, events)
	if end.Reason != broadcast.EndMaxTurns || end.Message != "Debate concluded after 2 turns." {
		t.Fatalf("unexpected end %+v", end)
	}
	if _, err := store.Get(context.Background(), id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected session removed after conclusion, got %v", err)
	}
}

func TestRuntime_StrictAlternationAndRoleFraming(t *testing.T) {
	a := newRuntimeTestLLM("a", "pro")
	b := newRuntimeTestLLM("b", "con")
	rt, _ := newTestRuntime(t, a, b, func(cfg *Config) { cfg.MaxTurns = 5 })

	_, sub := startAndSubscribe(t, rt, "tabs vs spaces")
	events := collect(t, sub)

	want := []debate.Role{debate.RoleUser, debate.RoleSpeakerA, debate.RoleSpeakerB, debate.RoleSpeakerA, debate.RoleSpeakerB, debate.RoleSpeakerA}
	fin := finals(events)
	if len(fin) != len(want) {
		t.Fatalf("expected %d finalized messages, got %+v", len(want), fin)
	}
	for i, m := range fin {
		if m.Role != want[i] {
			t.Fatalf("message %d role %q, want %q", i, m.Role, want[i])
		}
	}

	reqsB := b.Requests()
	if len(reqsB) != 2 {
		t.Fatalf("expected 2 requests to B, got %d", len(reqsB))
	}
	first := reqsB[0].Messages
	if first[0].Role != model.RoleSystem || first[0].Text != debate.DirectiveAgainst {
		t.Fatalf("expected B directive first, got %+v", first[0])
	}
	if last := first[len(first)-1]; last.Role != model.RoleUser || last.Text != "pro" {
		t.Fatalf("expected opponent turn framed as user input, got %+v", last)
	}
	reqsA := a.Requests()
	second := reqsA[1].Messages
	if second[2].Role != model.RoleAssistant || second[2].Text != "pro" {
		t.Fatalf("expected own turn framed as assistant, got %+v", second)
	}
	if reqsA[0].MaxOutputTokens != defaultMaxOutputTokens {
		t.Fatalf("expected max output tokens %d, got %d", defaultMaxOutputTokens, reqsA[0].MaxOutputTokens)
	}
}

func TestRuntime_StopBeforeProviderOutput(t *testing.T) {
	a := newRuntimeTestLLM("a")
	a.block = true
	b := newRuntimeTestLLM("b", "never")
	rt, store := newTestRuntime(t, a, b, nil)

	id, sub := startAndSubscribe(t, rt, "cats vs dogs")
	if err := rt.Stop(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	events := collect(t, sub)
	for _, m := range messages(events) {
		if m.Role == debate.RoleSpeakerA || m.Role == debate.RoleSpeakerB {
			t.Fatalf("unexpected speaker message after stop: %+v", m)
		}
	}
	end := endOf(t, events)
	if end.Reason != broadcast.EndCancelled || end.Message != MessageAborted {
		t.Fatalf("unexpected end %+v", end)
	}
	if store.Len() != 0 {
		t.Fatalf("expected store empty, got %d", store.Len())
	}
	if len(b.Requests()) != 0 {
		t.Fatal("speaker B must not be called after stop")
	}
}

func TestRuntime_StopIsIdempotent(t *testing.T) {
	a := newRuntimeTestLLM("a")
	a.block = true
	rt, _ := newTestRuntime(t, a, newRuntimeTestLLM("b"), nil)

	id, sub := startAndSubscribe(t, rt, "topic")
	for i := 0; i < 3; i++ {
		if err := rt.Stop(context.Background(), id); err != nil {
			t.Fatalf("stop #%d: %v", i, err)
		}
	}
	if err := rt.Stop(context.Background(), "unknown-session"); err != nil {
		t.Fatalf("stop of unknown id: %v", err)
	}
	events := collect(t, sub)
	ends := 0
	for _, ev := range events {
		if ev.Type == broadcast.EventEnd {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected exactly one end event, got %d", ends)
	}
}

func TestRuntime_ProviderFailureEndsSession(t *testing.T) {
	a := newRuntimeTestLLM("a")
	a.err = &model.ProviderError{Provider: "OpenAI", Model: "gpt-4o-mini", StatusCode: 429, Message: "rate limited"}
	b := newRuntimeTestLLM("b", "unused")
	rt, store := newTestRuntime(t, a, b, nil)

	id, sub := startAndSubscribe(t, rt, "cats vs dogs")
	events := collect(t, sub)

	var errs []broadcast.ErrorData
	for _, ev := range events {
		if ev.Type == broadcast.EventError {
			errs = append(errs, ev.Data.(broadcast.ErrorData))
		}
	}
	if len(errs) != 1 || errs[0].Message != "Error with OpenAI API: rate limited" {
		t.Fatalf("expected exactly one error event, got %+v", errs)
	}
	if events[len(events)-2].Type != broadcast.EventError {
		t.Fatalf("expected error immediately before end, got %+v", events)
	}
	end := endOf(t, events)
	if end.Reason != broadcast.EndError || end.Message != MessageEnded {
		t.Fatalf("unexpected end %+v", end)
	}
	if _, err := store.Get(context.Background(), id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected session removed, got %v", err)
	}
	if len(b.Requests()) != 0 {
		t.Fatal("turn must not advance after a provider failure")
	}
}

func TestRuntime_ConcurrentSessionsDoNotInterleave(t *testing.T) {
	a := newRuntimeTestLLM("a", "x", "y")
	a.delay = time.Millisecond
	b := newRuntimeTestLLM("b", "z")
	rt, _ := newTestRuntime(t, a, b, func(cfg *Config) { cfg.MaxTurns = 3 })

	topics := []string{"first topic", "second topic"}
	results := make([][]broadcast.Event, len(topics))
	ids := make([]string, len(topics))
	var wg sync.WaitGroup
	for i, topic := range topics {
		id, sub := startAndSubscribe(t, rt, topic)
		ids[i] = id
		wg.Add(1)
		go func(i int, sub *broadcast.Subscription) {
			defer wg.Done()
			for ev := range sub.Events() {
				results[i] = append(results[i], ev)
			}
		}(i, sub)
	}
	wg.Wait()

	seen := map[string]int{}
	for i, events := range results {
		if got := events[0].Data.(broadcast.ConnectedData).ID; got != ids[i] {
			t.Fatalf("session %d connected to %q", i, got)
		}
		msgs := messages(events)
		if !strings.Contains(msgs[0].Content, topics[i]) {
			t.Fatalf("session %d opened with %q", i, msgs[0].Content)
		}
		for _, m := range msgs {
			if owner, ok := seen[m.ID]; ok && owner != i {
				t.Fatalf("message %s delivered to sessions %d and %d", m.ID, owner, i)
			}
			seen[m.ID] = i
		}
		if endOf(t, events).Reason != broadcast.EndMaxTurns {
			t.Fatalf("session %d did not conclude", i)
		}
	}
}

func TestRuntime_StopDuringPacingDelay(t *testing.T) {
	a := newRuntimeTestLLM("a", "only turn")
	b := newRuntimeTestLLM("b", "never")
	rt, _ := newTestRuntime(t, a, b, func(cfg *Config) { cfg.PacingDelay = time.Hour })

	id, sub := startAndSubscribe(t, rt, "topic")
	var events []broadcast.Event
	for ev := range sub.Events() {
		events = append(events, ev)
		if ev.Type == broadcast.EventMessage {
			if m := ev.Data.(broadcast.MessageData); m.Final && m.Role == debate.RoleSpeakerA {
				if err := rt.Stop(context.Background(), id); err != nil {
					t.Fatal(err)
				}
			}
		}
	}
	end := endOf(t, events)
	if end.Reason != broadcast.EndCancelled {
		t.Fatalf("expected cancellation end, got %+v", end)
	}
	if len(b.Requests()) != 0 {
		t.Fatal("next turn must not start after stop during pacing")
	}
}

func TestRuntime_BulkStop(t *testing.T) {
	a := newRuntimeTestLLM("a")
	a.block = true
	rt, store := newTestRuntime(t, a, newRuntimeTestLLM("b"), nil)

	_, sub1 := startAndSubscribe(t, rt, "one")
	_, sub2 := startAndSubscribe(t, rt, "two")
	if err := rt.Stop(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	for _, sub := range []*broadcast.Subscription{sub1, sub2} {
		if end := endOf(t, collect(t, sub)); end.Reason != broadcast.EndCancelled {
			t.Fatalf("unexpected end %+v", end)
		}
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}

func TestRuntime_BulkStopDisabled(t *testing.T) {
	rt, _ := newTestRuntime(t, newRuntimeTestLLM("a"), newRuntimeTestLLM("b"), func(cfg *Config) {
		cfg.AllowBulkStop = false
	})
	if err := rt.Stop(context.Background(), ""); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRuntime_RunStateWhileAwaitingProvider(t *testing.T) {
	a := newRuntimeTestLLM("a")
	a.block = true
	rt, _ := newTestRuntime(t, a, newRuntimeTestLLM("b"), nil)

	id, sub := startAndSubscribe(t, rt, "topic")
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatal("provider was never called")
	}
	state, err := rt.RunState(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if !state.Running || state.Status != RunLifecycleStatusRunning || state.State != session.StateAwaitingA {
		t.Fatalf("unexpected run state %+v", state)
	}
	if rt.ActiveRuns() != 1 {
		t.Fatalf("expected one active run, got %d", rt.ActiveRuns())
	}
	snap, err := rt.Snapshot(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].Role != debate.RoleUser {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	if err := rt.Stop(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	collect(t, sub)
	if _, err := rt.Snapshot(context.Background(), id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected not found after stop, got %v", err)
	}
}

func TestRuntime_ShutdownRefusesNewSessions(t *testing.T) {
	a := newRuntimeTestLLM("a")
	a.block = true
	rt, _ := newTestRuntime(t, a, newRuntimeTestLLM("b"), func(cfg *Config) { cfg.SubscriberWait = 0 })

	if _, err := rt.Start(context.Background(), "topic"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if rt.ActiveRuns() != 0 {
		t.Fatalf("expected no active runs, got %d", rt.ActiveRuns())
	}
	if _, err := rt.Start(context.Background(), "late"); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("expected ErrShuttingDown, got %v", err)
	}
}

type memorySink struct {
	mu      sync.Mutex
	records []transcript.Record
}

func (s *memorySink) SaveSession(_ context.Context, rec transcript.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func TestRuntime_MirrorsTranscript(t *testing.T) {
	sink := &memorySink{}
	writer := transcript.NewWriter(sink, transcript.WriterConfig{})
	rt, _ := newTestRuntime(t, newRuntimeTestLLM("a", "pro"), newRuntimeTestLLM("b", "con"), func(cfg *Config) {
		cfg.MaxTurns = 2
		cfg.Transcript = writer
	})

	id, sub := startAndSubscribe(t, rt, "topic")
	collect(t, sub)
	// The final snapshot is enqueued after the end event is published.
	deadline := time.Now().Add(2 * time.Second)
	for rt.ActiveRuns() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := writer.Close(ctx); err != nil {
		t.Fatal(err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.records) == 0 {
		t.Fatal("expected transcript snapshots")
	}
	last := sink.records[len(sink.records)-1]
	if last.SessionID != id || last.Topic != "topic" || len(last.Messages) != 3 {
		t.Fatalf("unexpected last snapshot %+v", last)
	}
}

func TestRuntime_NoHeartbeatAfterStop(t *testing.T) {
	a := newRuntimeTestLLM("a", "late")
	a.stall = 150 * time.Millisecond
	rt, _ := newTestRuntime(t, a, newRuntimeTestLLM("b"), func(cfg *Config) {
		cfg.Broadcaster = broadcast.New(broadcast.Config{HeartbeatInterval: 5 * time.Millisecond, Buffer: 256})
	})

	id, sub := startAndSubscribe(t, rt, "topic")
	select {
	case <-a.started:
	case <-time.After(2 * time.Second):
		t.Fatal("speaker A never called")
	}
	time.Sleep(20 * time.Millisecond)

	// Drain what was delivered before the stop.
drain:
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == broadcast.EventEnd {
				t.Fatalf("stream ended before stop: %+v", ev)
			}
		default:
			break drain
		}
	}
	if err := rt.Stop(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	events := collect(t, sub)
	heartbeats := 0
	for _, ev := range events[:len(events)-1] {
		switch ev.Type {
		case broadcast.EventHeartbeat:
			heartbeats++
		default:
			t.Fatalf("unexpected %s event after stop: %+v", ev.Type, events)
		}
	}
	// At most one tick can race the drain above; the stalled provider
	// spans about thirty of them.
	if heartbeats > 1 {
		t.Fatalf("got %d heartbeats after stop", heartbeats)
	}
	if end := endOf(t, events); end.Reason != broadcast.EndCancelled {
		t.Fatalf("unexpected end %+v", end)
	}
}
