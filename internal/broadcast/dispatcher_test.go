package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"castbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

type progressCall struct{ percent, sent, failed int }

type progressLog struct {
	mu    sync.Mutex
	calls []progressCall
}

func (p *progressLog) record(percent, sent, failed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, progressCall{percent, sent, failed})
}

func (p *progressLog) snapshot() []progressCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progressCall(nil), p.calls...)
}

func seq(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestDispatcherBatchesAndProgress(t *testing.T) {
	t.Parallel()
	tests := []struct {
		total, batch int
		wantCalls    int
	}{
		{1, 30, 1},
		{30, 30, 1},
		{31, 30, 2},
		{95, 30, 4},
		{7, 2, 4},
	}
	for _, tt := range tests {
		req := require.New(t)
		var progress progressLog
		d := NewDispatcher(tt.batch, 0, clock.NewMock(), logx.Nop())

		out, err := d.Run(context.Background(), seq(tt.total), func(context.Context, int64) error { return nil }, nil, progress.record)
		req.NoError(err)
		req.Len(out.Sent, tt.total)
		req.Empty(out.Failed)

		calls := progress.snapshot()
		req.Len(calls, tt.wantCalls, "total=%d batch=%d", tt.total, tt.batch)
		last := -1
		for _, c := range calls {
			req.GreaterOrEqual(c.percent, last, "percent must not decrease")
			last = c.percent
		}
		req.Equal(100, calls[len(calls)-1].percent)
	}
}

func TestDispatcherPartitionsFailures(t *testing.T) {
	req := require.New(t)
	d := NewDispatcher(3, 0, clock.NewMock(), logx.Nop())

	deliver := func(_ context.Context, id int64) error {
		switch id {
		case 2:
			return errDeliver
		case 4:
			panic("boom")
		}
		return nil
	}
	out, err := d.Run(context.Background(), seq(5), deliver, nil, nil)
	req.NoError(err)
	req.ElementsMatch([]int64{1, 3, 5}, out.Sent)
	req.ElementsMatch([]int64{2, 4}, out.Failed)
	req.Equal(5, out.Processed())
}

func TestDispatcherBatchOrderIsPreserved(t *testing.T) {
	req := require.New(t)
	d := NewDispatcher(2, 0, clock.NewMock(), logx.Nop())
	out, err := d.Run(context.Background(), []int64{10, 20, 30, 40, 50}, func(context.Context, int64) error { return nil }, nil, nil)
	req.NoError(err)
	req.ElementsMatch([]int64{10, 20}, out.Sent[:2])
	req.ElementsMatch([]int64{30, 40}, out.Sent[2:4])
	req.Equal(int64(50), out.Sent[4])
}

func TestDispatcherEmptyRecipients(t *testing.T) {
	req := require.New(t)
	d := NewDispatcher(2, time.Second, clock.NewMock(), logx.Nop())
	called := false
	out, err := d.Run(context.Background(), nil,
		func(context.Context, int64) error { called = true; return nil },
		func() bool { called = true; return false },
		func(int, int, int) { called = true },
	)
	req.NoError(err)
	req.Zero(out.Processed())
	req.False(called)
}

func TestDispatcherCancelAfterBatch(t *testing.T) {
	req := require.New(t)
	d := NewDispatcher(2, 0, clock.NewMock(), logx.Nop())

	// Given cancellation is signalled right after batch k=2 completes
	var (
		cancelled atomic.Bool
		batches   int
		delivered sync.Map
	)
	onProgress := func(int, int, int) {
		batches++
		if batches == 2 {
			cancelled.Store(true)
		}
	}
	deliver := func(_ context.Context, id int64) error {
		delivered.Store(id, true)
		if id == 3 {
			return errDeliver
		}
		return nil
	}

	out, err := d.Run(context.Background(), seq(10), deliver, cancelled.Load, onProgress)

	// Then the run stops with exactly the first two batches processed
	req.ErrorIs(err, ErrCancelled)
	req.ElementsMatch([]int64{1, 2, 4}, out.Sent)
	req.Equal([]int64{3}, out.Failed)
	for id := int64(5); id <= 10; id++ {
		_, seen := delivered.Load(id)
		req.False(seen, "recipient %d must not be contacted", id)
	}
}

func TestDispatcherCancelledBeforeFirstBatch(t *testing.T) {
	d := NewDispatcher(2, 0, clock.NewMock(), logx.Nop())
	out, err := d.Run(context.Background(), seq(3), func(context.Context, int64) error {
		t.Fatal("no delivery expected")
		return nil
	}, func() bool { return true }, nil)
	require.ErrorIs(t, err, ErrCancelled)
	require.Zero(t, out.Processed())
}

func TestDispatcherPacesBatches(t *testing.T) {
	req := require.New(t)
	mock := clock.NewMock()
	d := NewDispatcher(2, time.Second, mock, logx.Nop())

	var calls atomic.Int32
	deliver := func(context.Context, int64) error { calls.Add(1); return nil }

	done := make(chan struct{})
	var out Outcome
	go func() {
		defer close(done)
		out, _ = d.Run(context.Background(), seq(3), deliver, nil, nil)
	}()

	// Given the first batch ran, the second batch waits for the interval
	req.Eventually(func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	req.EqualValues(2, calls.Load())

	// When the clock advances, then the last batch runs
	req.Eventually(func() bool {
		mock.Add(time.Second)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	req.EqualValues(3, calls.Load())
	req.Len(out.Sent, 3)
}

func TestDispatcherShutdownDuringPause(t *testing.T) {
	req := require.New(t)
	mock := clock.NewMock()
	d := NewDispatcher(1, time.Hour, mock, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	done := make(chan struct{})
	var (
		out Outcome
		err error
	)
	go func() {
		defer close(done)
		out, err = d.Run(ctx, seq(3), func(context.Context, int64) error { calls.Add(1); return nil }, nil, nil)
	}()

	req.Eventually(func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	<-done

	req.True(errors.Is(err, context.Canceled))
	req.Equal([]int64{1}, out.Sent)
}

func TestPercent(t *testing.T) {
	t.Parallel()
	require.Equal(t, 67, Percent(2, 3))
	require.Equal(t, 33, Percent(1, 3))
	require.Equal(t, 100, Percent(3, 3))
	require.Equal(t, 50, Percent(1, 2))
	require.Equal(t, 100, Percent(0, 0))
}
