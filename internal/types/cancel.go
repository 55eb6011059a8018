package types

import "sync/atomic"

// CancelToken is a cooperative cancellation handle. The pipeline polls it
// immediately before each remote call; in-flight calls are never aborted,
// their results are simply discarded.
type CancelToken struct {
	tripped atomic.Bool
}

// NewCancelToken returns an untripped token.
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel trips the token. Safe to call from any goroutine, and idempotent.
func (t *CancelToken) Cancel() {
	if t != nil {
		t.tripped.Store(true)
	}
}

// Cancelled reports whether the token has been tripped. A nil token is
// never cancelled.
func (t *CancelToken) Cancelled() bool {
	return t != nil && t.tripped.Load()
}
