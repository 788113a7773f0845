package serializer

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	pprof "github.com/google/pprof/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/sigprof/pkg/config"
	"github.com/danpilch/sigprof/pkg/flamegraph"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/sample"
)

type names map[host.Handle]string

func (n names) FrameInfo(frame host.Handle) (string, string, bool) {
	name, ok := n[frame]
	return name, "app.rb", ok
}

func (n names) ThreadName(thread host.Handle) string {
	if name, ok := n[thread]; ok {
		return name
	}
	return "unnamed"
}

var resolver = names{1: "main", 10: "outer", 11: "inner", 12: "other"}

// stackOf builds a sample whose frames are given leaf first.
func stackOf(thread host.Handle, at time.Time, frames []host.Handle, pcs ...uintptr) sample.Sample {
	var s sample.Sample
	s.Thread = thread
	s.Timestamp = at
	s.LineCount = int32(len(frames))
	for i, f := range frames {
		s.Frames[i] = f
		s.Lines[i] = int32(100 + i)
	}
	s.NativePCs[0] = uintptr(len(pcs))
	copy(s.NativePCs[1:], pcs)
	return s
}

func testProfile() *profile.Profile {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	p := profile.New(start, 10*time.Millisecond, config.WallTime)
	p.Duration = time.Second
	p.Samples = []sample.Sample{
		stackOf(1, start.Add(10*time.Millisecond), []host.Handle{11, 10}, 0x1000, 0x2000),
		stackOf(1, start.Add(20*time.Millisecond), []host.Handle{11, 10}, 0x1000, 0x2000),
		stackOf(1, start.Add(30*time.Millisecond), []host.Handle{12, 10}),
		stackOf(2, start.Add(40*time.Millisecond), []host.Handle{99}),
	}
	return p
}

func TestPprofRoundTrip(t *testing.T) {
	p := testProfile()
	data, err := NewPprof(resolver).Serialize(p)
	require.NoError(t, err)

	parsed, err := pprof.Parse(bytes.NewReader(data))
	require.NoError(t, err)
	require.NoError(t, parsed.CheckValid())

	require.Len(t, parsed.SampleType, 2)
	assert.Equal(t, "samples", parsed.SampleType[0].Type)
	assert.Equal(t, "wall", parsed.SampleType[1].Type)
	assert.Equal(t, "nanoseconds", parsed.SampleType[1].Unit)
	assert.Equal(t, int64(10*time.Millisecond), parsed.Period)
	assert.Equal(t, int64(time.Second), parsed.DurationNanos)
	assert.Equal(t, p.StartTimestamp.UnixNano(), parsed.TimeNanos)
	assert.Contains(t, parsed.Comments, "session_id="+p.SessionID)

	require.Len(t, parsed.Sample, 3, "identical stacks merge")
	first := parsed.Sample[0]
	assert.Equal(t, []int64{2, int64(20 * time.Millisecond)}, first.Value)
	assert.Equal(t, []string{"main"}, first.Label["thread"])
	assert.Equal(t, []int64{1}, first.NumLabel["thread_id"])

	require.Len(t, first.Location, 4)
	assert.Equal(t, uint64(0x1000), first.Location[0].Address)
	assert.Empty(t, first.Location[0].Line)
	require.Len(t, first.Location[2].Line, 1)
	assert.Equal(t, "inner", first.Location[2].Line[0].Function.Name)
	assert.Equal(t, int64(100), first.Location[2].Line[0].Line)
	assert.Equal(t, "outer", first.Location[3].Line[0].Function.Name)

	last := parsed.Sample[2]
	assert.Equal(t, []string{"unnamed"}, last.Label["thread"])
	assert.Equal(t, "0x63", last.Location[0].Line[0].Function.Name)
}

func TestPprofDedupesFunctions(t *testing.T) {
	prof, err := NewPprof(resolver).Build(testProfile())
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, fn := range prof.Function {
		seen[fn.Name]++
	}
	for name, n := range seen {
		assert.Equal(t, 1, n, "function %s", name)
	}
	assert.Len(t, prof.Function, 4)
}

func TestPprofWithoutNative(t *testing.T) {
	prof, err := (&Pprof{Resolver: resolver}).Build(testProfile())
	require.NoError(t, err)
	for _, loc := range prof.Location {
		assert.NotEmpty(t, loc.Line)
	}
}

func TestPprofEmptyProfile(t *testing.T) {
	p := profile.New(time.Now(), time.Millisecond, config.CPUTime)
	prof, err := NewPprof(nil).Build(p)
	require.NoError(t, err)
	assert.Empty(t, prof.Sample)
	assert.Equal(t, "cpu", prof.DefaultSampleType)
}

func TestJSON(t *testing.T) {
	p := testProfile()
	data, err := (&JSON{Resolver: resolver}).Serialize(p)
	require.NoError(t, err)

	var doc JSONProfile
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, p.SessionID, doc.SessionID)
	assert.Equal(t, "wall", doc.TimeMode)
	assert.Equal(t, []JSONThread{{ID: 1, Name: "main", Samples: 3}, {ID: 2, Name: "unnamed", Samples: 1}}, doc.Threads)

	require.Len(t, doc.Samples, 4)
	s := doc.Samples[0]
	assert.Equal(t, int64(10*time.Millisecond), s.ElapsedNS)
	assert.Equal(t, []JSONFrame{{Name: "inner", File: "app.rb", Line: 100}, {Name: "outer", File: "app.rb", Line: 101}}, s.Frames)
	assert.Equal(t, []string{"0x1000", "0x2000"}, s.NativePCs)
	assert.Empty(t, doc.Samples[2].NativePCs)
}

func TestForFormat(t *testing.T) {
	for _, name := range Formats {
		s, err := ForFormat(name, resolver)
		require.NoError(t, err, name)
		assert.NotNil(t, s)
	}

	s, err := ForFormat("", resolver)
	require.NoError(t, err)
	assert.IsType(t, &Pprof{}, s)

	s, err = ForFormat("FOLDED", resolver)
	require.NoError(t, err)
	assert.IsType(t, &flamegraph.Folded{}, s)

	_, err = ForFormat("speedscope", resolver)
	assert.ErrorContains(t, err, "unknown format")
}

func TestFindMergedComparesKeys(t *testing.T) {
	a := &pprof.Sample{Value: []int64{1, 1}}
	// Two keys sharing a bucket stand in for a hash collision.
	bucket := []mergedSample{{key: "stack-a", sample: a}}

	assert.Same(t, a, findMerged(bucket, []byte("stack-a")))
	assert.Nil(t, findMerged(bucket, []byte("stack-b")))
	assert.Nil(t, findMerged(nil, []byte("stack-a")))
}

func TestPprofKeepsStacksThatDifferOnlyInNativeFrames(t *testing.T) {
	start := time.Now()
	p := profile.New(start, time.Millisecond, config.CPUTime)
	p.Samples = []sample.Sample{
		stackOf(1, start, []host.Handle{10}, 0x1),
		stackOf(1, start, []host.Handle{10}, 0x2),
		stackOf(1, start, []host.Handle{10}, 0x1),
	}

	prof, err := NewPprof(resolver).Build(p)
	require.NoError(t, err)
	require.Len(t, prof.Sample, 2)
	assert.Equal(t, int64(2), prof.Sample[0].Value[0])
	assert.Equal(t, int64(1), prof.Sample[1].Value[0])

	prof, err = (&Pprof{Resolver: resolver}).Build(p)
	require.NoError(t, err)
	require.Len(t, prof.Sample, 1)
	assert.Equal(t, int64(3), prof.Sample[0].Value[0])
}
