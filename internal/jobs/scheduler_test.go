package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler_RunsUntilCancelled(t *testing.T) {
	s := NewScheduler(zap.NewNop())
	var ok, failing atomic.Int32
	s.Add(Job{Name: "ok", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		ok.Add(1)
		return nil
	}})
	s.Add(Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}})
	s.Add(Job{Name: "disabled", Run: func(context.Context) error {
		t.Error("disabled job ran")
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)

	assert.Eventually(t, func() bool {
		return ok.Load() >= 2 && failing.Load() >= 2
	}, time.Second, time.Millisecond)

	cancel()
	s.Wait()
	stopped := ok.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, ok.Load())
}

func TestScheduler_PanicDoesNotStopLoop(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	s := NewScheduler(zap.New(core, zap.Development()))
	var calls atomic.Int32
	s.Add(Job{Name: "flaky", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("first run")
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	s.Wait()

	panics := logs.FilterMessage("Job panicked").All()
	require.Len(t, panics, 1)
	assert.Equal(t, zapcore.ErrorLevel, panics[0].Level)
	assert.Contains(t, panics[0].ContextMap(), "stack")
}
