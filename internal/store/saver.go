package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/haldvik/skribo/internal/document"
	"github.com/haldvik/skribo/internal/persistence"
)

const saveTimeout = 15 * time.Second

// saver serializes archive writes behind a single goroutine. Mutations hand
// it the latest archive; overlapping submissions coalesce into one write of
// the newest state, so backend writes always apply in submission order.
type saver struct {
	adapter persistence.Adapter
	logger  *zap.Logger

	mu      sync.Mutex
	pending *document.Archive

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newSaver(adapter persistence.Adapter, logger *zap.Logger) *saver {
	return &saver{
		adapter: adapter,
		logger:  logger,
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (s *saver) start() {
	go s.run()
}

func (s *saver) run() {
	defer close(s.done)
	for {
		select {
		case <-s.kick:
			s.flush()
		case <-s.stop:
			s.flush()
			return
		}
	}
}

// enqueue records the archive as the next state to persist. Save failures are
// logged and swallowed; the in-memory store stays authoritative and the next
// successful save restores durability.
func (s *saver) enqueue(archive document.Archive) {
	s.mu.Lock()
	s.pending = &archive
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *saver) flush() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	if pending == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.adapter.Save(ctx, *pending); err != nil {
		s.logger.Warn("persistence unavailable, continuing from memory", zap.Error(err))
	}
}

// close flushes any pending write and waits for the goroutine to exit. It is
// safe to call more than once.
func (s *saver) close(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
