package journal

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sealtrace/sealtrace/src/ledger"
)

// Appender persists one event.
type Appender interface {
	Append(ctx context.Context, ev ledger.Event) error
}

// Sink is a ledger.EventSink that writes events to an Appender from a
// background goroutine. Publish never blocks; events that do not fit the
// buffer are counted and dropped.
type Sink struct {
	store   Appender
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	events chan ledger.Event
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewSink starts the writer goroutine. Call Close to flush and stop it.
func NewSink(store Appender, buffer int, logger *slog.Logger) *Sink {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Sink{
		store:   store,
		logger:  logger,
		timeout: 5 * time.Second,
		events:  make(chan ledger.Event, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) Publish(ev ledger.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.dropped.Add(1)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.logger.Warn("Journal buffer full, dropping event", "seq", ev.Seq, "kind", ev.Kind)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.store.Append(ctx, ev)
		cancel()
		if err != nil {
			s.failed.Add(1)
			s.logger.Error("Failed to journal event", "seq", ev.Seq, "kind", ev.Kind, "error", err)
			continue
		}
		s.written.Add(1)
	}
}

// Close stops accepting events and waits for buffered ones to be written or
// for ctx to end.
func (s *Sink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports how many events were written, dropped and failed.
func (s *Sink) Stats() (written, dropped, failed uint64) {
	return s.written.Load(), s.dropped.Load(), s.failed.Load()
}
