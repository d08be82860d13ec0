package load

import (
	"context"
	"testing"
	"time"

	"PRelay/module/presence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSampler struct {
	cpu, mem float64
	calls    int
}

func (f *fakeSampler) Measure(context.Context) (float64, float64, error) {
	f.calls++
	return f.cpu, f.mem, nil
}

func newTestMonitor(sampler *fakeSampler, conns int, now *time.Time) *Monitor {
	clock := func() time.Time { return *now }
	dir := presence.NewMemDirectory(presence.Config{TTL: time.Minute, Clock: clock})
	ctx := context.Background()
	for i := 0; i < conns; i++ {
		_ = dir.MarkOnline(ctx, "ClassGroup_1", "u"+string(rune('a'+i)))
	}
	return NewMonitor(Config{
		SampleWindow: 5 * time.Second,
		CPUThreshold: 70,
		MemThreshold: 75,
		ConnCeiling:  10,
		Clock:        clock,
	}, sampler, dir)
}

func TestLoadScoreBlend(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&fakeSampler{cpu: 50, mem: 50}, 5, &now)

	// 0.5*0.4 + 0.5*0.3 + 0.5*0.3 = 0.5
	assert.InDelta(t, 0.5, m.LoadScore(context.Background()), 1e-9)
}

func TestLoadScoreCapsDimensions(t *testing.T) {
	now := time.Now()
	m := newTestMonitor(&fakeSampler{cpu: 250, mem: 10}, 0, &now)

	// cpu capped at 1.0 before blending
	assert.InDelta(t, 0.4+0.1*0.3, m.LoadScore(context.Background()), 1e-9)
}

func TestPressureIsDisjunctive(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	m := newTestMonitor(&fakeSampler{cpu: 71, mem: 10}, 0, &now)
	assert.True(t, m.IsUnderPressure(ctx), "cpu alone must trigger")

	now = now.Add(time.Minute)
	m = newTestMonitor(&fakeSampler{cpu: 10, mem: 76}, 0, &now)
	assert.True(t, m.IsUnderPressure(ctx), "memory alone must trigger")

	m = newTestMonitor(&fakeSampler{cpu: 10, mem: 10}, 11, &now)
	assert.True(t, m.IsUnderPressure(ctx), "connections alone must trigger")

	m = newTestMonitor(&fakeSampler{cpu: 69, mem: 74}, 9, &now)
	assert.False(t, m.IsUnderPressure(ctx))
}

func TestSampleCachedWithinWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := &fakeSampler{cpu: 10, mem: 10}
	m := newTestMonitor(s, 0, &now)

	m.Sample(ctx)
	m.Sample(ctx)
	require.Equal(t, 1, s.calls, "second sample within the window must hit the cache")

	now = now.Add(6 * time.Second)
	m.Sample(ctx)
	require.Equal(t, 2, s.calls)
}
