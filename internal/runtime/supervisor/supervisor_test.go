package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

func TestGoRecoversPanicAndPublishesError(t *testing.T) {
	req := require.New(t)
	s := NewSupervisor(context.Background())

	s.Go("boom", func(context.Context) error { panic("bad") })

	err := s.Wait(ctxTimeout(t))
	req.ErrorContains(err, "boom: panic: bad")
	req.Equal(int64(0), s.Counters().Active)
	req.Equal(uint64(1), s.Counters().Started)

	stats := s.Snapshot()
	req.Len(stats, 1)
	req.Equal(uint64(1), stats[0].Panics)
}

func TestCancelOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("fails", func(context.Context) error { return errors.New("nope") })
	s.Go0("waits", func(ctx context.Context) { <-ctx.Done() })

	require.ErrorContains(t, s.Wait(ctxTimeout(t)), "fails: nope")
	require.Error(t, s.Context().Err())
}

func TestContextCanceledIsClean(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, s.Stop(ctxTimeout(t)))
}

func TestGoRestartBacksOffOnMockClock(t *testing.T) {
	req := require.New(t)
	mock := clock.NewMock()
	s := NewSupervisor(context.Background(), WithClock(mock))

	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Second, 4*time.Second), WithPublishFirstError(true))

	// Each restart waits on the mock clock; advance until the clean third run
	req.Eventually(func() bool {
		mock.Add(5 * time.Second)
		return runs.Load() == 3
	}, 2*time.Second, 5*time.Millisecond)

	err := s.Wait(ctxTimeout(t))
	req.ErrorContains(err, "flaky: transient")

	var flaky Stats
	for _, st := range s.Snapshot() {
		if st.Name == "flaky" {
			flaky = st
		}
	}
	req.Equal(uint64(3), flaky.Started)
	req.Equal(uint64(2), flaky.Restarts)
}

func TestGoRestartGivesUp(t *testing.T) {
	mock := clock.NewMock()
	s := NewSupervisor(context.Background(), WithClock(mock), WithCancelOnError(true))

	var runs atomic.Int32
	s.GoRestart("dead", func(context.Context) error {
		runs.Add(1)
		return errors.New("down")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatalOnFinalError(true))

	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		return s.Context().Err() != nil
	}, 2*time.Second, 5*time.Millisecond)
	require.ErrorContains(t, s.Wait(ctxTimeout(t)), "dead: down")
	require.Equal(t, int32(3), runs.Load())
}

func TestGoRestartStopsOnShutdown(t *testing.T) {
	s := NewSupervisor(context.Background(), WithClock(clock.NewMock()))
	started := make(chan struct{})
	s.GoRestart0("poll", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}, WithStopOnCleanExit(false))

	<-started
	require.NoError(t, s.Stop(ctxTimeout(t)))
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}
