package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"netmaster/internal/collector"
	"netmaster/internal/logger"
)

const (
	MinInterval            = 10 * time.Second
	MaxBackoff             = 300 * time.Second
	MaxConsecutiveFailures = 5
)

type Sender interface {
	Send(ctx context.Context, r collector.Report) error
}

// Runner collects and reports on a fixed interval until the context ends,
// authentication is rejected, or too many cycles fail in a row.
type Runner struct {
	source   collector.Source
	sender   Sender
	interval time.Duration
	log      *logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRunner(source collector.Source, sender Sender, interval time.Duration, log *logger.Logger) (*Runner, error) {
	if interval < MinInterval {
		return nil, fmt.Errorf("agent: collection interval must be at least %s", MinInterval)
	}
	return &Runner{source: source, sender: sender, interval: interval, log: log, sleep: sleepCtx}, nil
}

// Backoff is the delay after the n-th consecutive failure.
func Backoff(interval time.Duration, n int) time.Duration {
	if n < 1 {
		return interval
	}
	d := interval
	for i := 1; i < n; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// Run returns nil when ctx is cancelled and the terminating error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	failures := 0
	for {
		err := r.cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		delay := r.interval
		if err != nil {
			failures++
			r.log.Error("report failed", "attempt", failures, "max", MaxConsecutiveFailures, "err", err)
			var aerr *Error
			if errors.As(err, &aerr) && aerr.Fatal() {
				r.log.Error("authentication rejected, stopping agent")
				return err
			}
			if failures >= MaxConsecutiveFailures {
				r.log.Error("too many consecutive failures, stopping agent")
				return fmt.Errorf("agent: %d consecutive failures: %w", failures, err)
			}
			delay = Backoff(r.interval, failures)
			r.log.Info("retrying", "in", delay.String())
		} else {
			if failures > 0 {
				r.log.Info("report delivered after failures", "failures", failures)
			}
			failures = 0
		}
		if err := r.sleep(ctx, delay); err != nil {
			return nil
		}
	}
}

func (r *Runner) cycle(ctx context.Context) error {
	rep, err := r.source.Collect(ctx)
	if err != nil {
		return &Error{Kind: KindCollect, Err: err}
	}
	if err := r.sender.Send(ctx, rep); err != nil {
		return err
	}
	r.log.Debug("report sent", "cpu", rep.CPUPercent, "memory", rep.MemoryPercent, "disk", rep.DiskPercent)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
