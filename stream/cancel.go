// Per-stream cancellation tokens (§4.6 step 7, §5 "Cancellation").
package stream

import (
	"context"
	"sync"
)

// CancelRegistry tracks one cancel func per in-flight chat stream, keyed by
// chat id, so a separate "cancel" HTTP request can abort it cooperatively.
type CancelRegistry struct {
	mu     sync.Mutex
	tokens map[int64]context.CancelFunc
}

// NewCancelRegistry returns an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{tokens: map[int64]context.CancelFunc{}}
}

// Register derives a cancelable context from parent and stores its cancel
// func under chatID, returning the derived context and a release func the
// caller must defer to clean up the entry when the stream ends normally.
func (r *CancelRegistry) Register(parent context.Context, chatID int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.tokens[chatID] = cancel
	r.mu.Unlock()
	return ctx, func() {
		r.mu.Lock()
		delete(r.tokens, chatID)
		r.mu.Unlock()
	}
}

// Cancel aborts the in-flight stream for chatID, if any. Returns false if no
// stream was registered (already finished or never started).
func (r *CancelRegistry) Cancel(chatID int64) bool {
	r.mu.Lock()
	cancel, ok := r.tokens[chatID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}
