// Package pipeline implements the per-venue funding-rate sync pipelines and
// the concurrency and retry kernel they share.
package pipeline

import (
	"context"
	"time"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/models"
)

const (
	maxAttempts    = 3
	retryBaseDelay = time.Second
)

// Kernel bounds per-symbol parallelism with a counting semaphore and retries
// transient venue failures with linear back-off. One kernel per pipeline
// instance, constructed with the venue's parallelism cap.
type Kernel struct {
	sem   chan struct{}
	sleep exchanges.SleepFunc
}

// NewKernel creates a kernel with the given parallelism cap.
func NewKernel(parallelism int) *Kernel {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Kernel{
		sem:   make(chan struct{}, parallelism),
		sleep: exchanges.Sleep,
	}
}

// Acquire takes a semaphore slot, or fails when the context is cancelled
// first.
func (k *Kernel) Acquire(ctx context.Context) error {
	select {
	case k.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a semaphore slot.
func (k *Kernel) Release() {
	<-k.sem
}

// Retry runs fn up to three times. After failed attempt k it sleeps k
// seconds before the next attempt. Only transient venue failures are
// retried; cancellation and every other error kind propagate immediately.
// The final attempt's error is returned as-is.
func (k *Kernel) Retry(ctx context.Context, fn func(ctx context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil || attempt >= maxAttempts || !models.IsRetryable(err) {
			return err
		}

		if err := k.sleep(ctx, time.Duration(attempt)*retryBaseDelay); err != nil {
			return err
		}
	}
}
