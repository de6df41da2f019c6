package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-updater/internal/batch"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (c *countingRunner) Run(ctx context.Context) (batch.Summary, error) {
	c.calls.Add(1)
	return batch.Summary{}, c.err
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := New(&countingRunner{}, slog.Default())

	err := s.Start(context.Background(), "every six hours", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}

func TestScheduler_RunOnStart(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, slog.Default())

	require.NoError(t, s.Start(context.Background(), "0 0 */6 * * *", true))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	runner := &countingRunner{err: batch.ErrRunInProgress}
	s := New(runner, slog.Default())

	require.NoError(t, s.Start(context.Background(), "* * * * * *", false))
	defer s.Stop()

	assert.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestScheduler_SkipsWhenContextDone(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s.trigger(ctx)
	assert.Zero(t, runner.calls.Load())
}
