package persist

import "context"

// Persister stores one Record. Implementations must be safe to call from the
// scheduler goroutine while other goroutines read what they wrote.
type Persister interface {
	Persist(ctx context.Context, rec Record) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, rec Record) error

// Persist implements Persister.
func (f PersisterFunc) Persist(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}
