package telemetry

import (
	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives a stable identity digest from a point's deterministic
// parts: the metric name, the tag set, and the field keys. Timestamps and
// field values are excluded so repeated observations of the same series
// hash identically. Tags and fields are already key-sorted by NewPoint, so
// equal inputs always produce equal digests.
func Fingerprint(p *Point) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(p.name)
	for _, t := range p.tags {
		_, _ = d.Write(fingerprintSep)
		_, _ = d.WriteString(t.Key)
		_, _ = d.Write(fingerprintEq)
		_, _ = d.WriteString(t.Value)
	}
	_, _ = d.Write(fingerprintSep)
	for _, f := range p.fields {
		_, _ = d.Write(fingerprintSep)
		_, _ = d.WriteString(f.Key)
	}
	return d.Sum64()
}

// Separators keep adjacent components from colliding (e.g. tag "ab"="c"
// versus tag "a"="bc").
var (
	fingerprintSep = []byte{0}
	fingerprintEq  = []byte{1}
)
