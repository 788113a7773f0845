package serializer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
)

// JSON encodes a profile with resolved frames, one object per sample.
type JSON struct {
	Resolver host.FrameResolver
	Indent   bool
}

// JSONProfile is the document written by JSON.
type JSONProfile struct {
	SessionID      string       `json:"session_id"`
	StartTimestamp time.Time    `json:"start_timestamp"`
	DurationNS     int64        `json:"duration_ns"`
	IntervalNS     int64        `json:"interval_ns"`
	TimeMode       string       `json:"time_mode"`
	Threads        []JSONThread `json:"threads"`
	Samples        []JSONSample `json:"samples"`
}

// JSONThread names a thread that appears in the samples.
type JSONThread struct {
	ID      uint64 `json:"id"`
	Name    string `json:"name"`
	Samples int    `json:"samples"`
}

// JSONSample is one sample. Frames are leaf first.
type JSONSample struct {
	Thread    uint64      `json:"thread"`
	ElapsedNS int64       `json:"elapsed_ns"`
	Frames    []JSONFrame `json:"frames"`
	NativePCs []string    `json:"native_pcs,omitempty"`
}

// JSONFrame is a resolved managed frame.
type JSONFrame struct {
	Name string `json:"name"`
	File string `json:"file,omitempty"`
	Line int32  `json:"line"`
}

// Serialize implements Serializer.
func (s *JSON) Serialize(p *profile.Profile) ([]byte, error) {
	doc := JSONProfile{
		SessionID:      p.SessionID,
		StartTimestamp: p.StartTimestamp,
		DurationNS:     p.Duration.Nanoseconds(),
		IntervalNS:     p.Interval.Nanoseconds(),
		TimeMode:       p.TimeMode.String(),
		Threads:        []JSONThread{},
		Samples:        make([]JSONSample, 0, len(p.Samples)),
	}

	for _, t := range p.Threads() {
		doc.Threads = append(doc.Threads, JSONThread{
			ID:      uint64(t),
			Name:    host.DescribeThread(s.Resolver, t),
			Samples: p.SamplesFor(t),
		})
	}

	for i := range p.Samples {
		smp := &p.Samples[i]
		frames, lines := smp.Managed()
		js := JSONSample{
			Thread:    uint64(smp.Thread),
			ElapsedNS: smp.Timestamp.Sub(p.StartTimestamp).Nanoseconds(),
			Frames:    make([]JSONFrame, len(frames)),
		}
		for j := range frames {
			name, file := host.DescribeFrame(s.Resolver, frames[j])
			js.Frames[j] = JSONFrame{Name: name, File: file, Line: lines[j]}
		}
		for _, pc := range smp.Native() {
			js.NativePCs = append(js.NativePCs, fmt.Sprintf("0x%x", pc))
		}
		doc.Samples = append(doc.Samples, js)
	}

	if s.Indent {
		return json.MarshalIndent(doc, "", "  ")
	}
	return json.Marshal(doc)
}
