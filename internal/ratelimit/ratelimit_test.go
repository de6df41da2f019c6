package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDelayer struct {
	waits []time.Duration
}

func (r *recordingDelayer) Wait(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

type fixedJitter int64

func (f fixedJitter) Int63n(n int64) int64 {
	if int64(f) >= n {
		return n - 1
	}
	return int64(f)
}

func TestSleeper_RespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Sleeper{}.Wait(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleeper_ZeroDuration(t *testing.T) {
	assert.NoError(t, Sleeper{}.Wait(context.Background(), 0))
}

func TestSimplePacer_FirstWaitUsesFullDelay(t *testing.T) {
	d := &recordingDelayer{}
	p := NewSimplePacer(d, fixedJitter(0), 5*time.Second, 0)

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second}, d.waits)
}

func TestSimplePacer_SubtractsElapsed(t *testing.T) {
	d := &recordingDelayer{}
	p := NewSimplePacer(d, fixedJitter(0), 5*time.Second, 0)

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	require.NoError(t, p.Wait(context.Background()))

	now = now.Add(2 * time.Second)
	require.NoError(t, p.Wait(context.Background()))

	now = now.Add(10 * time.Second)
	require.NoError(t, p.Wait(context.Background()))

	assert.Equal(t, []time.Duration{5 * time.Second, 3 * time.Second}, d.waits)
}

func TestSimplePacer_AddsJitter(t *testing.T) {
	d := &recordingDelayer{}
	p := NewSimplePacer(d, fixedJitter(int64(750*time.Millisecond)), time.Second, 2*time.Second)

	require.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, []time.Duration{1750 * time.Millisecond}, d.waits)
}

func TestAdaptivePacer_BacksOffAndRecovers(t *testing.T) {
	a := NewAdaptivePacer(&recordingDelayer{}, fixedJitter(0), 4*time.Second, 0)

	for i := 0; i < 3; i++ {
		a.RecordError()
	}
	assert.Equal(t, 6*time.Second, a.CurrentDelay())

	for i := 0; i < 6; i++ {
		a.RecordSuccess()
	}
	assert.Equal(t, time.Duration(float64(6*time.Second)*0.9), a.CurrentDelay())

	for i := 0; i < 60; i++ {
		a.RecordSuccess()
	}
	assert.Equal(t, 4*time.Second, a.CurrentDelay())
}

func TestAdaptivePacer_Ceiling(t *testing.T) {
	a := NewAdaptivePacer(&recordingDelayer{}, fixedJitter(0), time.Second, 0)

	for i := 0; i < 100; i++ {
		a.RecordError()
	}
	assert.Equal(t, 8*time.Second, a.CurrentDelay())
}
