package presence

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Tyrowin/notifyws/internal/metrics"
)

const stateWriteTimeout = 5 * time.Second

type stateUpdate struct {
	userID  string
	stateID string
	key     string
}

// stateWriter applies presence state writes to the store in the order they
// were requested, off the admission and cleanup paths.
type stateWriter struct {
	store  Store
	queue  chan stateUpdate
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool

	log zerolog.Logger
}

func newStateWriter(store Store, size int, log zerolog.Logger) *stateWriter {
	if size <= 0 {
		size = 1024
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &stateWriter{
		store:  store,
		queue:  make(chan stateUpdate, size),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		log:    log,
	}
}

// enqueue never blocks. A full queue drops the write.
func (w *stateWriter) enqueue(u stateUpdate) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		w.log.Warn().Str("user_id", u.userID).Str("state", u.key).Msg("state writer closed; dropping state write")
		metrics.StateWritesFailed.Inc()
		return false
	}

	select {
	case w.queue <- u:
		return true
	default:
		w.log.Warn().Str("user_id", u.userID).Str("state", u.key).Msg("state queue full; dropping state write")
		metrics.StateWritesFailed.Inc()
		return false
	}
}

// run processes writes until shutdown, then drains what is already queued.
func (w *stateWriter) run() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case u := <-w.queue:
			w.apply(u)
		}
	}
}

func (w *stateWriter) drain() {
	for {
		select {
		case u := <-w.queue:
			w.apply(u)
		default:
			return
		}
	}
}

func (w *stateWriter) apply(u stateUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), stateWriteTimeout)
	defer cancel()

	if err := w.store.UpdateUserState(ctx, u.userID, u.stateID); err != nil {
		metrics.StateWritesFailed.Inc()
		w.log.Error().Err(err).Str("user_id", u.userID).Str("state", u.key).Msg("failed to update user state")
		return
	}
	w.log.Debug().Str("user_id", u.userID).Str("state", u.key).Msg("user state updated")
}

// shutdown stops accepting writes and waits for queued writes to be applied,
// or until the timeout is reached.
func (w *stateWriter) shutdown(timeout time.Duration) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.cancel()

	select {
	case <-w.done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}
