package backtrace

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingUnwinder struct{}

func (failingUnwinder) Simple(int, []uintptr) (int, error) {
	return 0, errors.New("no unwind info")
}

// countingUnwinder reports n program counters and may claim more than it wrote.
type countingUnwinder struct{ n, overhang int }

func (c countingUnwinder) Simple(_ int, pcs []uintptr) (int, error) {
	w := 0
	for ; w < c.n && w < len(pcs); w++ {
		pcs[w] = uintptr(0x1000 + w)
	}
	return w + c.overhang, nil
}

func TestRuntimeUnwinderFillsCaller(t *testing.T) {
	s := NewState(nil, nil)

	pcs := make([]uintptr, MaxDepth)
	n := s.Fill(pcs)
	require.Positive(t, n)
	assert.LessOrEqual(t, n, MaxDepth)
	for _, pc := range pcs[:n] {
		assert.NotZero(t, pc)
	}
}

func TestFillRespectsDestination(t *testing.T) {
	s := NewState(countingUnwinder{n: 50}, nil)

	pcs := make([]uintptr, 3)
	assert.Equal(t, 3, s.Fill(pcs))
	assert.Equal(t, []uintptr{0x1000, 0x1001, 0x1002}, pcs)
}

func TestFillClampsOverreportingUnwinder(t *testing.T) {
	s := NewState(countingUnwinder{n: 2, overhang: 100}, nil)
	assert.Equal(t, 8, s.Fill(make([]uintptr, 8)))

	big := make([]uintptr, MaxDepth+50)
	assert.Equal(t, MaxDepth, NewState(countingUnwinder{n: 5000}, nil).Fill(big))
}

func TestFillErrorIsLogged(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s := NewState(failingUnwinder{}, logger)

	assert.Zero(t, s.Fill(make([]uintptr, 4)))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Native backtrace failed", hook.LastEntry().Message)
}

func TestFillDoesNotAllocate(t *testing.T) {
	s := NewState(nil, nil)
	pcs := make([]uintptr, MaxDepth)

	allocs := testing.AllocsPerRun(100, func() {
		s.Fill(pcs)
	})
	assert.Zero(t, allocs)
}
