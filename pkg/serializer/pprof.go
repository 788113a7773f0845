package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	pprof "github.com/google/pprof/profile"
	"github.com/zeebo/xxh3"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
	"github.com/danpilch/sigprof/pkg/sample"
)

// Pprof encodes a profile as gzipped pprof protobuf. Native program counters
// become address-only locations; they are not symbolized.
type Pprof struct {
	Resolver      host.FrameResolver
	IncludeNative bool
}

// NewPprof returns a pprof serializer that includes native frames.
func NewPprof(resolver host.FrameResolver) *Pprof {
	return &Pprof{Resolver: resolver, IncludeNative: true}
}

// Serialize implements Serializer.
func (s *Pprof) Serialize(p *profile.Profile) ([]byte, error) {
	prof, err := s.Build(p)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := prof.Write(&buf); err != nil {
		return nil, fmt.Errorf("write pprof: %w", err)
	}
	return buf.Bytes(), nil
}

type lineKey struct {
	frame host.Handle
	line  int32
}

type pprofBuilder struct {
	resolver  host.FrameResolver
	out       *pprof.Profile
	functions map[host.Handle]*pprof.Function
	managed   map[lineKey]*pprof.Location
	native    map[uintptr]*pprof.Location
	threads   map[host.Handle]string
}

// Build converts p without encoding it. Samples with an identical thread and
// stack are merged.
func (s *Pprof) Build(p *profile.Profile) (*pprof.Profile, error) {
	mode := p.TimeMode.String()
	period := p.Interval.Nanoseconds()

	b := &pprofBuilder{
		resolver: s.Resolver,
		out: &pprof.Profile{
			SampleType: []*pprof.ValueType{
				{Type: "samples", Unit: "count"},
				{Type: mode, Unit: "nanoseconds"},
			},
			DefaultSampleType: mode,
			PeriodType:        &pprof.ValueType{Type: mode, Unit: "nanoseconds"},
			Period:            period,
			TimeNanos:         p.StartTimestamp.UnixNano(),
			DurationNanos:     p.Duration.Nanoseconds(),
			Comments:          []string{"session_id=" + p.SessionID},
		},
		functions: make(map[host.Handle]*pprof.Function),
		managed:   make(map[lineKey]*pprof.Location),
		native:    make(map[uintptr]*pprof.Location),
		threads:   make(map[host.Handle]string),
	}

	// Stacks are bucketed by hash and compared by key, so a collision never
	// merges two different stacks.
	merged := make(map[uint64][]mergedSample)
	var key []byte
	for i := range p.Samples {
		smp := &p.Samples[i]
		key = stackKey(key[:0], smp, s.IncludeNative)
		h := xxh3.Hash(key)
		if existing := findMerged(merged[h], key); existing != nil {
			existing.Value[0]++
			existing.Value[1] += period
			continue
		}

		out := &pprof.Sample{
			Location: b.locations(smp, s.IncludeNative),
			Value:    []int64{1, period},
			Label:    map[string][]string{"thread": {b.threadName(smp.Thread)}},
			NumLabel: map[string][]int64{"thread_id": {int64(smp.Thread)}},
		}
		merged[h] = append(merged[h], mergedSample{key: string(key), sample: out})
		b.out.Sample = append(b.out.Sample, out)
	}

	if err := b.out.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid pprof profile: %w", err)
	}
	return b.out, nil
}

type mergedSample struct {
	key    string
	sample *pprof.Sample
}

func findMerged(bucket []mergedSample, key []byte) *pprof.Sample {
	for i := range bucket {
		if bucket[i].key == string(key) {
			return bucket[i].sample
		}
	}
	return nil
}

// stackKey appends the identity of a sample's stack to dst.
func stackKey(dst []byte, s *sample.Sample, native bool) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(s.Thread))
	frames, lines := s.Managed()
	for i := range frames {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(frames[i]))
		dst = binary.LittleEndian.AppendUint32(dst, uint32(lines[i]))
	}
	if native {
		// Separator so managed and native runs cannot alias.
		dst = append(dst, 0xff)
		for _, pc := range s.Native() {
			dst = binary.LittleEndian.AppendUint64(dst, uint64(pc))
		}
	}
	return dst
}

// locations returns the sample's stack leaf first, native frames before
// managed ones.
func (b *pprofBuilder) locations(s *sample.Sample, native bool) []*pprof.Location {
	frames, lines := s.Managed()
	n := len(frames)
	if native {
		n += s.NativeDepth()
	}
	locs := make([]*pprof.Location, 0, n)
	if native {
		for _, pc := range s.Native() {
			locs = append(locs, b.nativeLocation(pc))
		}
	}
	for i := range frames {
		locs = append(locs, b.managedLocation(frames[i], lines[i]))
	}
	return locs
}

func (b *pprofBuilder) nativeLocation(pc uintptr) *pprof.Location {
	if loc, ok := b.native[pc]; ok {
		return loc
	}
	loc := &pprof.Location{
		ID:      uint64(len(b.out.Location) + 1),
		Address: uint64(pc),
	}
	b.native[pc] = loc
	b.out.Location = append(b.out.Location, loc)
	return loc
}

func (b *pprofBuilder) managedLocation(frame host.Handle, line int32) *pprof.Location {
	k := lineKey{frame: frame, line: line}
	if loc, ok := b.managed[k]; ok {
		return loc
	}
	loc := &pprof.Location{
		ID:   uint64(len(b.out.Location) + 1),
		Line: []pprof.Line{{Function: b.function(frame), Line: int64(line)}},
	}
	b.managed[k] = loc
	b.out.Location = append(b.out.Location, loc)
	return loc
}

func (b *pprofBuilder) function(frame host.Handle) *pprof.Function {
	if fn, ok := b.functions[frame]; ok {
		return fn
	}
	name, file := host.DescribeFrame(b.resolver, frame)
	fn := &pprof.Function{
		ID:         uint64(len(b.out.Function) + 1),
		Name:       name,
		SystemName: name,
		Filename:   file,
	}
	b.functions[frame] = fn
	b.out.Function = append(b.out.Function, fn)
	return fn
}

func (b *pprofBuilder) threadName(thread host.Handle) string {
	if name, ok := b.threads[thread]; ok {
		return name
	}
	name := host.DescribeThread(b.resolver, thread)
	b.threads[thread] = name
	return name
}
