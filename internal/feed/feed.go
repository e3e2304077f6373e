// Package feed drives exchange refreshes from a timer and the database change feed.
package feed

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Refreshable reloads its state from the remote order table
type Refreshable interface {
	Refresh(ctx context.Context) error
}

// Listener delivers a payload for every change to the order table
type Listener interface {
	Listen(ctx context.Context, fn func(payload string)) error
}

// Refresher merges a periodic tick and change notifications into a single
// refresh signal. Signals that arrive while a refresh runs are coalesced.
type Refresher struct {
	Target   Refreshable
	Listener Listener
	Interval time.Duration
	Backoff  time.Duration
	Logger   *zap.Logger

	signals chan struct{}
}

func NewRefresher(target Refreshable, listener Listener, interval time.Duration, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{
		Target:   target,
		Listener: listener,
		Interval: interval,
		Backoff:  time.Second,
		Logger:   logger,
		signals:  make(chan struct{}, 1),
	}
}

// Trigger requests a refresh
func (r *Refresher) Trigger() {
	select {
	case r.signals <- struct{}{}:
	default:
	}
}

// Run refreshes once, then on every signal until ctx ends. It returns after
// the listener goroutine has stopped.
func (r *Refresher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	if r.Listener != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.listen(ctx)
		}()
	}
	defer wg.Wait()

	var tick <-chan time.Time
	if r.Interval > 0 {
		ticker := time.NewTicker(r.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.Trigger()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			r.Trigger()
		case <-r.signals:
			if err := r.Target.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.Logger.Warn("refresh failed", zap.Error(err))
			}
		}
	}
}

func (r *Refresher) listen(ctx context.Context) {
	for {
		err := r.Listener.Listen(ctx, func(payload string) {
			r.Logger.Debug("order changed", zap.String("order_id", payload))
			r.Trigger()
		})
		if ctx.Err() != nil {
			return
		}
		r.Logger.Warn("change feed interrupted, reconnecting", zap.Error(err), zap.Duration("backoff", r.Backoff))

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Backoff):
		}
		// changes may have been missed while disconnected
		r.Trigger()
	}
}
