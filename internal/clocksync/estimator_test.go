package clocksync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeExchange builds a round trip against a client whose clock runs
// clockOffset ahead of the server, over a symmetric link with the given
// one-way latency.
func makeExchange(serverSendMoment time.Time, clockOffset, latency, turnaround time.Duration) Exchange {
	return Exchange{
		ClientSend:    serverSendMoment.Add(clockOffset),
		ServerReceive: serverSendMoment.Add(latency),
		ServerSend:    serverSendMoment.Add(latency + turnaround),
		ClientReceive: serverSendMoment.Add(2*latency + turnaround + clockOffset),
	}
}

func TestEstimatorRecoversSyntheticOffset(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offset := 50 * time.Millisecond
	latency := 20 * time.Millisecond

	e := NewEstimator(5)
	for i := 0; i < 5; i++ {
		moment := base.Add(time.Duration(i) * 200 * time.Millisecond)
		done := e.AddExchange(makeExchange(moment, offset, latency, time.Millisecond))
		assert.Equal(t, i == 4, done)
	}

	gotOffset, gotLatency, ok := e.Estimate()
	require.True(t, ok)
	assert.InDelta(t, offset.Milliseconds(), gotOffset.Milliseconds(), 1)
	assert.InDelta(t, latency.Milliseconds(), gotLatency.Milliseconds(), 1)
}

func TestEstimatorRecoversNegativeOffset(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offset := -120 * time.Millisecond

	e := NewEstimator(3)
	for i := 0; i < 3; i++ {
		e.AddExchange(makeExchange(base.Add(time.Duration(i)*time.Second), offset, 15*time.Millisecond, 0))
	}

	gotOffset, _, ok := e.Estimate()
	require.True(t, ok)
	assert.InDelta(t, offset.Milliseconds(), gotOffset.Milliseconds(), 1)
}

func TestEstimatorTrimsLatencyOutliers(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	offset := 30 * time.Millisecond

	e := NewEstimator(5)
	latencies := []time.Duration{
		20 * time.Millisecond,
		21 * time.Millisecond,
		19 * time.Millisecond,
		400 * time.Millisecond, // congestion spike, must be discarded
		2 * time.Millisecond,   // implausibly fast, must be discarded
	}
	for i, lat := range latencies {
		e.AddExchange(makeExchange(base.Add(time.Duration(i)*time.Second), offset, lat, time.Millisecond))
	}

	gotOffset, gotLatency, ok := e.Estimate()
	require.True(t, ok)
	assert.InDelta(t, 20, gotLatency.Milliseconds(), 1)
	assert.InDelta(t, offset.Milliseconds(), gotOffset.Milliseconds(), 1)
}

func TestEstimatorWithNoSamples(t *testing.T) {
	e := NewEstimator(5)
	_, _, ok := e.Estimate()
	assert.False(t, ok)
	assert.False(t, e.Complete())
	assert.Equal(t, 0, e.SampleCount())
}

func TestEstimatorPartialSamplesAverageWithoutTrim(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Two samples: both must be kept, no outlier trim possible.
	e := NewEstimator(5)
	e.AddExchange(makeExchange(base, 40*time.Millisecond, 10*time.Millisecond, 0))
	e.AddExchange(makeExchange(base.Add(time.Second), 40*time.Millisecond, 30*time.Millisecond, 0))

	gotOffset, gotLatency, ok := e.Estimate()
	require.True(t, ok)
	assert.False(t, e.Complete())
	assert.Equal(t, 20*time.Millisecond, gotLatency)
	assert.InDelta(t, 40, gotOffset.Milliseconds(), 1)
}

func TestEstimatorClampsNegativeLatency(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// A client lying about its receive time can produce an rtt shorter than
	// the server turnaround; latency must clamp at zero, not go negative.
	e := NewEstimator(1)
	e.AddExchange(Exchange{
		ClientSend:    base,
		ServerReceive: base.Add(5 * time.Millisecond),
		ServerSend:    base.Add(50 * time.Millisecond),
		ClientReceive: base.Add(10 * time.Millisecond),
	})

	_, gotLatency, ok := e.Estimate()
	require.True(t, ok)
	assert.Equal(t, time.Duration(0), gotLatency)
}

func TestEstimatorIgnoresExtraExchanges(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e := NewEstimator(2)
	e.AddExchange(makeExchange(base, 10*time.Millisecond, 5*time.Millisecond, 0))
	require.True(t, e.AddExchange(makeExchange(base.Add(time.Second), 10*time.Millisecond, 5*time.Millisecond, 0)))

	// A third exchange after completion changes nothing.
	assert.True(t, e.AddExchange(makeExchange(base.Add(2*time.Second), 500*time.Millisecond, 5*time.Millisecond, 0)))
	assert.Equal(t, 2, e.SampleCount())

	gotOffset, _, ok := e.Estimate()
	require.True(t, ok)
	assert.InDelta(t, 10, gotOffset.Milliseconds(), 1)
}
