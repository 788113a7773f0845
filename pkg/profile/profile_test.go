package profile

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/sample"
)

func TestNew(t *testing.T) {
	now := time.Now()
	p := New(now, 10*time.Millisecond, config.WallTime)

	_, err := uuid.Parse(p.SessionID)
	require.NoError(t, err)
	assert.Equal(t, now, p.StartTimestamp)
	assert.Equal(t, config.WallTime, p.TimeMode)
	assert.Empty(t, p.Samples)
	assert.NotEqual(t, p.SessionID, New(now, time.Millisecond, config.CPUTime).SessionID)
}

func TestThreadsInFirstSeenOrder(t *testing.T) {
	p := New(time.Now(), time.Millisecond, config.CPUTime)
	for _, th := range []host.Handle{3, 1, 3, 2, 1, 3} {
		p.Samples = append(p.Samples, sample.Sample{Thread: th})
	}

	assert.Equal(t, []host.Handle{3, 1, 2}, p.Threads())
	assert.Equal(t, 3, p.SamplesFor(3))
	assert.Equal(t, 2, p.SamplesFor(1))
	assert.Zero(t, p.SamplesFor(9))
}
