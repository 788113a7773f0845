// Package serializer encodes completed profiles.
package serializer

import (
	"fmt"
	"strings"

	"github.com/danpilch/sigprof/pkg/flamegraph"
	"github.com/danpilch/sigprof/pkg/host"
	"github.com/danpilch/sigprof/pkg/profile"
)

// Serializer encodes a completed profile.
type Serializer interface {
	Serialize(p *profile.Profile) ([]byte, error)
}

// Formats lists the names accepted by ForFormat.
var Formats = []string{"pprof", "folded", "svg", "json"}

// ForFormat returns the serializer registered under name.
func ForFormat(name string, resolver host.FrameResolver) (Serializer, error) {
	switch strings.ToLower(name) {
	case "pprof", "":
		return NewPprof(resolver), nil
	case "folded":
		return &flamegraph.Folded{Options: flamegraph.Options{Resolver: resolver, ThreadRoots: true}}, nil
	case "svg":
		return &flamegraph.SVG{
			Options:    flamegraph.Options{Resolver: resolver, ThreadRoots: true},
			SVGOptions: flamegraph.DefaultSVGOptions(),
		}, nil
	case "json":
		return &JSON{Resolver: resolver, Indent: true}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want one of %s)", name, strings.Join(Formats, ", "))
	}
}
