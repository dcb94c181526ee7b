package transcript

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OnslaughtSnail/rostra/internal/logging"
	"github.com/OnslaughtSnail/rostra/kernel/debate"
)

// WriterConfig configures a Writer.
type WriterConfig struct {
	// Queue is the number of pending records held before new ones drop.
	Queue int
	// SaveTimeout bounds a single SaveSession call.
	SaveTimeout time.Duration
	Logger      *logging.Logger
	// OnResult observes every save attempt, e.g. for metrics.
	OnResult func(err error)
}

// Writer is an asynchronous write-behind front for a Sink. Enqueue never
// blocks the caller.
type Writer struct {
	sink     Sink
	timeout  time.Duration
	logger   *logging.Logger
	onResult func(error)

	mu     sync.RWMutex
	closed bool
	queue  chan Record
	done   chan struct{}
}

func NewWriter(sink Sink, cfg WriterConfig) *Writer {
	if sink == nil {
		sink = Nop{}
	}
	if cfg.Queue <= 0 {
		cfg.Queue = 128
	}
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	w := &Writer{
		sink:     sink,
		timeout:  cfg.SaveTimeout,
		logger:   logging.OrNop(cfg.Logger).Named("transcript"),
		onResult: cfg.OnResult,
		queue:    make(chan Record, cfg.Queue),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// Enqueue schedules rec for persistence. It reports false when the record
// was dropped because the queue is full or the writer is closed.
func (w *Writer) Enqueue(rec Record) bool {
	if w == nil {
		return false
	}
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now()
	}
	rec.Messages = append([]debate.Message(nil), rec.Messages...)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return false
	}
	select {
	case w.queue <- rec:
		return true
	default:
		w.logger.Warn(logging.WithSessionID(context.Background(), rec.SessionID), "transcript queue full, dropping snapshot")
		return false
	}
}

// Close stops accepting records and waits for queued ones to drain or ctx
// to end.
func (w *Writer) Close(ctx context.Context) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer close(w.done)
	for rec := range w.queue {
		w.save(rec)
	}
}

func (w *Writer) save(rec Record) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	err := w.sink.SaveSession(ctx, rec)
	if w.onResult != nil {
		w.onResult(err)
	}
	if err != nil {
		w.logger.Warn(logging.WithSessionID(ctx, rec.SessionID), "transcript save failed",
			zap.Error(err),
			zap.Int("messages", len(rec.Messages)),
		)
	}
}
