package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	s := New(zerolog.Nop())
	noop := func(context.Context) error { return nil }

	require.Error(t, s.Register(Job{Interval: time.Second, Run: noop}))
	require.Error(t, s.Register(Job{Name: "a", Run: noop}))
	require.Error(t, s.Register(Job{Name: "a", Interval: time.Second}))
	require.NoError(t, s.Register(Job{Name: "a", Interval: time.Second, Run: noop}))
	require.Error(t, s.Register(Job{Name: "a", Interval: time.Second, Run: noop}))
}

func TestStartIsIdempotentAndRunsOnStart(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Register(Job{
		Name:       "tick",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}))

	require.True(t, s.Start(context.Background()))
	require.False(t, s.Start(context.Background()))
	require.True(t, s.Running())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)

	<-s.Stop()
	require.False(t, s.Running())

	select {
	case <-s.Stop():
	case <-time.After(time.Second):
		t.Fatal("second Stop must return a closed channel")
	}
	require.Equal(t, int32(1), runs.Load())
}

func TestJobDoesNotOverlapItself(t *testing.T) {
	s := New(zerolog.Nop())
	var (
		runs    atomic.Int32
		current atomic.Int32
		maxSeen atomic.Int32
	)
	release := make(chan struct{})
	require.NoError(t, s.Register(Job{
		Name:       "slow",
		Interval:   time.Second,
		RunOnStart: true,
		Run: func(context.Context) error {
			n := current.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			runs.Add(1)
			<-release
			current.Add(-1)
			return nil
		},
	}))

	s.Start(context.Background())
	// the cron tick at +1s finds the startup run still in flight and skips.
	time.Sleep(1500 * time.Millisecond)
	close(release)

	<-s.Stop()
	require.Equal(t, int32(1), maxSeen.Load())
	require.Equal(t, int32(1), runs.Load())
}

func TestStopWaitsForInFlightAndDetachesContext(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{})
	var (
		finished atomic.Bool
		ctxErr   atomic.Value
	)
	require.NoError(t, s.Register(Job{
		Name:       "inflight",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			close(started)
			time.Sleep(100 * time.Millisecond)
			if ctx.Err() != nil {
				ctxErr.Store(ctx.Err())
			}
			finished.Store(true)
			return errors.New("reported, not fatal")
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	<-started
	cancel()

	<-s.Stop()
	require.True(t, finished.Load())
	require.Nil(t, ctxErr.Load())
}

func TestRecoverFromPanic(t *testing.T) {
	s := New(zerolog.Nop())
	var after atomic.Bool
	require.NoError(t, s.Register(Job{
		Name:       "panics",
		Interval:   time.Hour,
		RunOnStart: true,
		Run:        func(context.Context) error { panic("boom") },
	}))
	require.NoError(t, s.Register(Job{
		Name:       "healthy",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(context.Context) error {
			after.Store(true)
			return nil
		},
	}))

	s.Start(context.Background())
	require.Eventually(t, after.Load, time.Second, 10*time.Millisecond)
	<-s.Stop()
}

func TestRestartDoesNotShareStartupRuns(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	gates := []chan struct{}{make(chan struct{}), make(chan struct{})}
	require.NoError(t, s.Register(Job{
		Name:       "gated",
		Interval:   time.Hour,
		RunOnStart: true,
		Run: func(context.Context) error {
			<-gates[runs.Add(1)-1]
			return nil
		},
	}))

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 10*time.Millisecond)
	firstDone := s.Stop()

	require.True(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 2 }, time.Second, 10*time.Millisecond)

	// the first stop only waits for its own startup run.
	close(gates[0])
	select {
	case <-firstDone:
	case <-time.After(time.Second):
		t.Fatal("first Stop waited on the second run")
	}

	close(gates[1])
	<-s.Stop()
}
