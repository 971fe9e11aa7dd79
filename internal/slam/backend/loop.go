package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antares511/DPVO/internal/timeutil"
)

// Loop runs Driver.Optimize on a fixed interval.
type Loop struct {
	driver     *Driver
	iterations int
	interval   time.Duration
	clock      timeutil.Clock

	// OnRound, when set, is called after every tick with the Optimize
	// result (nil or ErrInsufficientFrames).
	OnRound func(err error)
}

// NewLoop returns a Loop running iterations rounds every interval.
func NewLoop(d *Driver, iterations int, interval time.Duration, clock timeutil.Clock) (*Loop, error) {
	if d == nil {
		return nil, errors.New("backend: loop needs a driver")
	}
	if iterations < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIterations, iterations)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("backend: loop interval must be positive, got %s", interval)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Loop{driver: d, iterations: iterations, interval: interval, clock: clock}, nil
}

// Run blocks until ctx is cancelled or a round fails with anything other
// than ErrInsufficientFrames. Cancellation is observed between calls only;
// an Optimize already in progress runs to completion. Run returns nil on
// cancellation.
func (l *Loop) Run(ctx context.Context) error {
	t := l.clock.NewTicker(l.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C():
		}
		// A tick and a cancellation may be ready together.
		if ctx.Err() != nil {
			return nil
		}

		err := l.driver.Optimize(l.iterations)
		switch {
		case err == nil:
		case errors.Is(err, ErrInsufficientFrames):
			l.driver.logf("loop: skipping tick: %v", err)
		default:
			return err
		}
		if l.OnRound != nil {
			l.OnRound(err)
		}
	}
}
