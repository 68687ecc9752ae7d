package extraction

import "sync"

// CancelToken is a one-shot cancellation flag polled at checkpoints. Once
// set it never resets. A nil token is never cancelled.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

// NewCancelToken returns an unset token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel sets the token. Safe to call repeatedly and concurrently.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done is closed once the token is set.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Check returns ErrCancelled when the token is set.
func (t *CancelToken) Check() error {
	if t.Cancelled() {
		return ErrCancelled
	}
	return nil
}
