package store

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-uncommons/v2/uncommons/backoff"
)

const (
	maxAttempts = 4
	retryBase   = 10 * time.Millisecond
)

// RunInTx runs fn in a unit of work and retries it when a concurrent unit of
// work forced a serialization conflict. fn must be safe to run again.
func RunInTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	var err error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = s.WithinTx(ctx, fn)
		if !errors.Is(err, ErrConflict) || attempt == maxAttempts-1 {
			return err
		}

		if werr := backoff.SleepWithContext(ctx, backoff.ExponentialWithJitter(retryBase, attempt)); werr != nil {
			return werr
		}
	}

	return err
}
