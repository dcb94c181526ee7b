package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/debate"
	"github.com/OnslaughtSnail/rostra/kernel/transcript"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "transcripts.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStore_SaveAndLoadGrowingSnapshots(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	first := transcript.Record{
		SessionID: "s1",
		Topic:     "cats vs dogs",
		SavedAt:   now,
		Messages: []debate.Message{
			{ID: "m0", Role: debate.RoleUser, Content: `Let's debate the topic: "cats vs dogs"`},
			{ID: "m1", Role: debate.RoleSpeakerA, Content: "cats"},
		},
	}
	if err := store.SaveSession(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := first
	second.SavedAt = now.Add(time.Second)
	second.Messages = append(append([]debate.Message(nil), first.Messages...), debate.Message{ID: "m2", Role: debate.RoleSpeakerB, Content: "dogs"})
	if err := store.SaveSession(ctx, second); err != nil {
		t.Fatal(err)
	}

	rec, err := store.Load(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Topic != "cats vs dogs" || len(rec.Messages) != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Messages[2].Role != debate.RoleSpeakerB || rec.Messages[2].Content != "dogs" {
		t.Fatalf("unexpected last message %+v", rec.Messages[2])
	}

	items, err := store.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].MessageCount != 3 {
		t.Fatalf("unexpected list %+v", items)
	}
}

func TestStore_ListHugeLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := transcript.Record{SessionID: fmt.Sprintf("s%d", i), Topic: "t", SavedAt: time.Now()}
		if err := store.SaveSession(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	items, err := store.List(ctx, math.MaxInt)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 summaries, got %d", len(items))
	}
	empty := openTestStore(t)
	items, err = empty.List(ctx, math.MaxInt)
	if err != nil || len(items) != 0 {
		t.Fatalf("unexpected empty list %+v, %v", items, err)
	}
}

func TestStore_LoadUnknown(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.Load(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SaveSession(context.Background(), transcript.Record{}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
