package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/OnslaughtSnail/rostra/kernel/session"
)

// Store is a thread-safe in-memory session registry.
type Store struct {
	mu    sync.RWMutex
	data  map[string]*session.Session
	newID func() string
}

func New() *Store {
	return &Store{
		data:  make(map[string]*session.Session),
		newID: uuid.NewString,
	}
}

func (s *Store) Create(ctx context.Context, topic string) (*session.Session, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("session: topic is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.newID()
	if _, exists := s.data[id]; exists {
		return nil, fmt.Errorf("session: id collision %q", id)
	}
	sess := session.New(ctx, id, topic)
	s.data[id] = sess
	return sess, nil
}

func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.data[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// Remove deletes the session and cancels it. The bool is false when id was
// not registered.
func (s *Store) Remove(ctx context.Context, id string) (*session.Session, bool) {
	_ = ctx
	s.mu.Lock()
	sess, ok := s.data[id]
	delete(s.data, id)
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	sess.Cancel()
	return sess, true
}

// List returns active sessions ordered by creation time.
func (s *Store) List(ctx context.Context) []*session.Session {
	_ = ctx
	s.mu.RLock()
	out := make([]*session.Session, 0, len(s.data))
	for _, sess := range s.data {
		out = append(out, sess)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len reports the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
