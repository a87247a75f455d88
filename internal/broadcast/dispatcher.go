package broadcast

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"castbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"
)

// DeliverFunc sends the broadcast to one recipient.
type DeliverFunc func(ctx context.Context, recipient int64) error

// ProgressFunc observes the cumulative state after each batch.
type ProgressFunc func(percent, sent, failed int)

// Dispatcher walks a recipient list in fixed-size batches. Deliveries inside
// one batch run concurrently; batch k+1 starts only after every delivery of
// batch k finished and the interval elapsed.
type Dispatcher struct {
	batchSize int
	interval  time.Duration
	clock     clock.Clock
	log       logx.Logger
}

func NewDispatcher(batchSize int, interval time.Duration, clk clock.Clock, log logx.Logger) *Dispatcher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Dispatcher{batchSize: batchSize, interval: interval, clock: clk, log: log}
}

// Run delivers to every recipient unless stopped. isCancelled is polled
// before each batch; when it reports true Run returns ErrCancelled with the
// outcome so far. Cancelling ctx ends the run at the next batch boundary or
// pause with ctx.Err(). Individual delivery failures never stop the run.
func (d *Dispatcher) Run(ctx context.Context, recipients []int64, deliver DeliverFunc, isCancelled func() bool, onProgress ProgressFunc) (Outcome, error) {
	total := len(recipients)
	out := Outcome{Sent: make([]int64, 0, total), Failed: make([]int64, 0)}
	if total == 0 {
		return out, nil
	}

	for start := 0; start < total; start += d.batchSize {
		if isCancelled != nil && isCancelled() {
			return out, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		end := min(start+d.batchSize, total)
		sent, failed := d.runBatch(ctx, recipients[start:end], deliver)
		out.Sent = append(out.Sent, sent...)
		out.Failed = append(out.Failed, failed...)

		if onProgress != nil {
			onProgress(Percent(end, total), len(out.Sent), len(out.Failed))
		}

		if end < total {
			if err := d.pause(ctx); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}

func (d *Dispatcher) runBatch(ctx context.Context, batch []int64, deliver DeliverFunc) (sent, failed []int64) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, id := range batch {
		g.Go(func() error {
			err := d.deliverOne(ctx, id, deliver)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = append(failed, id)
				d.log.Debug("broadcast delivery failed", logx.Int64("recipient", id), logx.Err(err))
				return nil
			}
			sent = append(sent, id)
			return nil
		})
	}
	_ = g.Wait()
	return sent, failed
}

func (d *Dispatcher) deliverOne(ctx context.Context, id int64, deliver DeliverFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	return deliver(ctx, id)
}

func (d *Dispatcher) pause(ctx context.Context) error {
	if d.interval <= 0 {
		return nil
	}
	t := d.clock.Timer(d.interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Percent is processed/total as a rounded whole percentage.
func Percent(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(float64(processed) * 100 / float64(total)))
}
