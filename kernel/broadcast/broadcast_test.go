package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

func newTestBroadcaster(cfg Config) *Broadcaster {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = -1
	}
	return New(cfg)
}

func recv(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed unexpectedly")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func drain(sub *Subscription) []Event {
	var out []Event
	for ev := range sub.Events() {
		out = append(out, ev)
	}
	return out
}

func TestSubscribeUnknownSession(t *testing.T) {
	b := newTestBroadcaster(Config{})
	if _, err := b.Subscribe("missing"); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
	b.Open("s1")
	b.Close("s1")
	if _, err := b.Subscribe("s1"); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound after close, got %v", err)
	}
}

func TestPublishWithoutSubscriberDropsImmediately(t *testing.T) {
	b := newTestBroadcaster(Config{SendTimeout: time.Hour})
	b.Open("s1")
	start := time.Now()
	if b.Publish("s1", Error("boom")) {
		t.Fatal("expected drop without subscriber")
	}
	if b.Publish("unknown", Error("boom")) {
		t.Fatal("expected drop for unknown session")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish blocked for %v", elapsed)
	}
}

func TestSubscribeSendsConnectedThenOrderedEvents(t *testing.T) {
	b := newTestBroadcaster(Config{})
	b.Open("s1")
	sub, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	first := recv(t, sub)
	if first.Type != EventConnected || first.Data.(ConnectedData).ID != "s1" {
		t.Fatalf("expected connected first, got %+v", first)
	}
	for i := range 10 {
		b.Publish("s1", Message(MessageData{ID: "m", Role: debate.RoleSpeakerA, Content: fmt.Sprint(i)}))
	}
	b.Publish("s1", End("Debate aborted.", EndCancelled))
	b.Close("s1")
	b.Publish("s1", Error("late"))

	events := drain(sub)
	if len(events) != 11 {
		t.Fatalf("expected 11 events, got %d", len(events))
	}
	for i := range 10 {
		if got := events[i].Data.(MessageData).Content; got != fmt.Sprint(i) {
			t.Fatalf("event %d out of order: %q", i, got)
		}
	}
	if events[10].Type != EventEnd {
		t.Fatalf("expected end last, got %+v", events[10])
	}
}

func TestSubscribeReplacesPreviousSubscriber(t *testing.T) {
	b := newTestBroadcaster(Config{})
	b.Open("s1")
	first, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	if got := drain(first); len(got) != 1 || got[0].Type != EventConnected {
		t.Fatalf("expected replaced subscriber to close after connected, got %+v", got)
	}
	recv(t, second)
	b.Publish("s1", Error("x"))
	if ev := recv(t, second); ev.Type != EventError {
		t.Fatalf("expected error event on new subscriber, got %+v", ev)
	}
}

func TestHeartbeatWhileSubscribed(t *testing.T) {
	b := New(Config{HeartbeatInterval: 10 * time.Millisecond})
	b.Open("s1")
	sub, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	recv(t, sub)
	ev := recv(t, sub)
	if ev.Type != EventHeartbeat {
		t.Fatalf("expected heartbeat, got %+v", ev)
	}
	if _, err := time.Parse(time.RFC3339, ev.Data.(string)); err != nil {
		t.Fatalf("heartbeat payload is not a timestamp: %v", err)
	}
	b.Publish("s1", End("done", EndMaxTurns))
	b.Close("s1")
	events := drain(sub)
	for i, ev := range events {
		if ev.Type == EventEnd && i != len(events)-1 {
			t.Fatalf("event after end: %+v", events[i+1:])
		}
	}
}

func TestEndSealsTopic(t *testing.T) {
	b := newTestBroadcaster(Config{})
	b.Open("s1")
	sub, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	if !b.Publish("s1", End("Debate aborted.", EndCancelled)) {
		t.Fatal("expected end delivered")
	}
	if b.Publish("s1", Message(MessageData{ID: "m1", Role: debate.RoleSpeakerA, Content: "late"})) {
		t.Fatal("expected publish after end to drop")
	}
	if _, err := b.Subscribe("s1"); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected sealed topic to refuse subscribers, got %v", err)
	}
	b.Close("s1")
	events := drain(sub)
	if len(events) != 2 || events[1].Type != EventEnd {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestSealDropsAllButEnd(t *testing.T) {
	b := newTestBroadcaster(Config{HeartbeatInterval: 5 * time.Millisecond})
	b.Open("s1")
	sub, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	b.Seal("s1")
	time.Sleep(40 * time.Millisecond)
	if b.Publish("s1", Message(MessageData{ID: "m1", Role: debate.RoleSpeakerA, Content: "late"})) {
		t.Fatal("expected message on sealed topic to drop")
	}
	if b.Publish("s1", Error("late")) {
		t.Fatal("expected error on sealed topic to drop")
	}
	if !b.Publish("s1", End("Debate aborted.", EndCancelled)) {
		t.Fatal("expected end delivered on sealed topic")
	}
	b.Close("s1")
	b.Seal("unknown")

	events := drain(sub)
	if len(events) != 2 || events[0].Type != EventConnected || events[1].Type != EventEnd {
		t.Fatalf("expected connected then end, got %+v", events)
	}
}

func TestSlowSubscriberIsDetached(t *testing.T) {
	b := newTestBroadcaster(Config{Buffer: 1, SendTimeout: 20 * time.Millisecond})
	b.Open("s1")
	sub, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	// Buffer holds connected; nothing reads.
	start := time.Now()
	if b.Publish("s1", Error("x")) {
		t.Fatal("expected publish to a full buffer to fail")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish exceeded send timeout: %v", elapsed)
	}
	if got := drain(sub); len(got) != 1 {
		t.Fatalf("expected only connected before detach, got %+v", got)
	}
	if b.Publish("s1", Error("y")) {
		t.Fatal("expected drop after detach")
	}
}

func TestSubscriptionCloseStopsDelivery(t *testing.T) {
	b := newTestBroadcaster(Config{})
	b.Open("s1")
	sub, err := b.Subscribe("s1")
	if err != nil {
		t.Fatal(err)
	}
	sub.Close()
	sub.Close()
	select {
	case <-sub.Done():
	default:
		t.Fatal("expected done closed")
	}
	if b.Publish("s1", Error("x")) {
		t.Fatal("expected drop after unsubscribe")
	}
}

func TestWaitSubscriber(t *testing.T) {
	b := newTestBroadcaster(Config{})
	b.Open("s1")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.WaitSubscriber(ctx, "s1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	go func() {
		time.Sleep(10 * time.Millisecond)
		_, _ = b.Subscribe("s1")
	}()
	if err := b.WaitSubscriber(context.Background(), "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := b.WaitSubscriber(context.Background(), "missing"); !errors.Is(err, ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}

func TestConcurrentSessionsDoNotInterleave(t *testing.T) {
	b := newTestBroadcaster(Config{Buffer: 256})
	ids := []string{"a", "b", "c"}
	subs := map[string]*Subscription{}
	for _, id := range ids {
		b.Open(id)
		sub, err := b.Subscribe(id)
		if err != nil {
			t.Fatal(err)
		}
		subs[id] = sub
	}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				b.Publish(id, Message(MessageData{ID: id, Content: fmt.Sprint(i)}))
			}
			b.Close(id)
		}()
	}
	wg.Wait()
	for _, id := range ids {
		for _, ev := range drain(subs[id]) {
			if ev.Type != EventMessage {
				continue
			}
			if got := ev.Data.(MessageData).ID; got != id {
				t.Fatalf("session %s received event for %s", id, got)
			}
		}
	}
}
