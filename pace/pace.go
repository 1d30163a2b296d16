// Package pace throttles the rate at which callers proceed. The rwbench
// command uses it to shape reader and writer arrival against a lock under
// test.
package pace

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrStopped = errors.New("pacer stopped")

// Pacer limits successful Acquire calls to at most maxCount per interval,
// tracked over a sliding window of grant timestamps. A zero interval or a
// non-positive maxCount means no limit.
type Pacer struct {
	clock    clockwork.Clock
	maxCount int
	interval time.Duration

	requests chan request
	stop     chan struct{}
}

type request struct {
	ctx     context.Context
	granted chan error
}

// NewPacer starts a pacer granting at most maxCount admissions per
// interval. Stop must be called to shut its coordinator goroutine down.
func NewPacer(maxCount int, interval time.Duration) *Pacer {
	return newPacer(clockwork.NewRealClock(), maxCount, interval)
}

func newPacer(clock clockwork.Clock, maxCount int, interval time.Duration) *Pacer {
	p := &Pacer{
		clock:    clock,
		maxCount: maxCount,
		interval: interval,
		requests: make(chan request),
		stop:     make(chan struct{}),
	}
	go p.run()
	return p
}

// Acquire blocks until the pacer grants a slot, ctx is done, or the pacer
// is stopped.
func (p *Pacer) Acquire(ctx context.Context) error {
	req := request{ctx: ctx, granted: make(chan error, 1)}
	select {
	case p.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrStopped
	}
	select {
	case err := <-req.granted:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts the pacer down. Pending and later Acquire calls return
// ErrStopped.
func (p *Pacer) Stop() {
	close(p.stop)
}

func (p *Pacer) run() {
	unlimited := p.maxCount <= 0 || p.interval <= 0

	var grants []time.Time
	for {
		if !unlimited {
			now := p.clock.Now()
			cutoff := now.Add(-p.interval)
			for len(grants) > 0 && !grants[0].After(cutoff) {
				grants = grants[1:]
			}

			if len(grants) >= p.maxCount {
				// Window is full: sleep until the oldest grant
				// falls out of it.
				select {
				case <-p.clock.After(grants[0].Add(p.interval).Sub(now)):
					continue
				case <-p.stop:
					return
				}
			}
		}

		select {
		case req := <-p.requests:
			select {
			case <-req.ctx.Done():
				req.granted <- req.ctx.Err()
			default:
				if !unlimited {
					grants = append(grants, p.clock.Now())
				}
				req.granted <- nil
			}
		case <-p.stop:
			return
		}
	}
}
