package runtime

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/OnslaughtSnail/rostra/kernel/model"
)

// runtimeTestLLM streams fixed chunks, optionally failing or blocking.
type runtimeTestLLM struct {
	name   string
	chunks []string
	// err is yielded before any chunk when set.
	err error
	// block waits for cancellation after the chunks are sent.
	block bool
	delay time.Duration
	// stall holds the stream without watching ctx, like a provider that
	// only notices cancellation at its next read.
	stall time.Duration

	mu       sync.Mutex
	requests []*model.Request
	started  chan struct{}
	once     sync.Once
}

func newRuntimeTestLLM(name string, chunks ...string) *runtimeTestLLM {
	if name == "" {
		name = "test-model"
	}
	return &runtimeTestLLM{name: name, chunks: chunks, started: make(chan struct{})}
}

func (l *runtimeTestLLM) Name() string {
	return l.name
}

func (l *runtimeTestLLM) Requests() []*model.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*model.Request(nil), l.requests...)
}

func (l *runtimeTestLLM) Generate(ctx context.Context, req *model.Request) iter.Seq2[*model.Response, error] {
	return func(yield func(*model.Response, error) bool) {
		l.mu.Lock()
		l.requests = append(l.requests, req)
		l.mu.Unlock()
		l.once.Do(func() { close(l.started) })
		if l.stall > 0 {
			time.Sleep(l.stall)
		}

		if l.err != nil {
			yield(nil, l.err)
			return
		}
		text := ""
		for _, chunk := range l.chunks {
			if l.delay > 0 {
				select {
				case <-ctx.Done():
					yield(nil, ctx.Err())
					return
				case <-time.After(l.delay):
				}
			}
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			text += chunk
			if !yield(&model.Response{
				Message:  model.Message{Role: model.RoleAssistant, Text: chunk},
				Partial:  true,
				Model:    l.name,
				Provider: "test-provider",
			}, nil) {
				return
			}
		}
		if l.block {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		yield(&model.Response{
			Message:      model.Message{Role: model.RoleAssistant, Text: text},
			TurnComplete: true,
			Model:        l.name,
			Provider:     "test-provider",
		}, nil)
	}
}
