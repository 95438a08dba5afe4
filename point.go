package telemetry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"

	protocol "github.com/influxdata/line-protocol"
)

// Point represents a single measurement event: a metric name, a set of
// indexed tags, at least one typed field, and an observation timestamp.
// Points are built once via NewPoint and are immutable afterwards.
//
// Point implements protocol.Metric so batches can be serialized directly
// by the line-protocol encoder.
type Point struct {
	name   string
	tags   []*protocol.Tag
	fields []*protocol.Field
	ts     time.Time
}

// NewPoint builds a point from a metric name, optional tags, and fields.
// Tags and fields are sorted by key so the point has a canonical order
// regardless of map iteration. Field values are normalized to one of
// int64, float64, bool, or string; unsupported types are kept as-is and
// rejected later by Validate.
func NewPoint(name string, tags map[string]string, fields map[string]any, ts time.Time) *Point {
	p := &Point{name: name, ts: ts}

	if len(tags) > 0 {
		keys := make([]string, 0, len(tags))
		for k := range tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		p.tags = make([]*protocol.Tag, 0, len(keys))
		for _, k := range keys {
			p.tags = append(p.tags, &protocol.Tag{Key: k, Value: tags[k]})
		}
	}

	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		p.fields = make([]*protocol.Field, 0, len(keys))
		for _, k := range keys {
			p.fields = append(p.fields, &protocol.Field{Key: k, Value: normalizeFieldValue(fields[k])})
		}
	}

	return p
}

// Name returns the metric series name.
func (p *Point) Name() string { return p.name }

// Time returns the observation timestamp.
func (p *Point) Time() time.Time { return p.ts }

// TagList returns the point's tags sorted by key.
func (p *Point) TagList() []*protocol.Tag { return p.tags }

// FieldList returns the point's fields sorted by key.
func (p *Point) FieldList() []*protocol.Field { return p.fields }

// Tags returns the tags as a map.
func (p *Point) Tags() map[string]string {
	out := make(map[string]string, len(p.tags))
	for _, t := range p.tags {
		out[t.Key] = t.Value
	}
	return out
}

// Fields returns the fields as a map of normalized values.
func (p *Point) Fields() map[string]any {
	out := make(map[string]any, len(p.fields))
	for _, f := range p.fields {
		out[f.Key] = f.Value
	}
	return out
}

func normalizeFieldValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case float64, bool, string:
		return x
	case time.Duration:
		return int64(x)
	default:
		return v
	}
}

// Validation errors
var (
	ErrInvalidMetricName = errors.New("invalid metric name")
	ErrInvalidTagKey     = errors.New("invalid tag key")
	ErrInvalidTagValue   = errors.New("invalid tag value")
	ErrInvalidFieldKey   = errors.New("invalid field key")
	ErrInvalidFieldValue = errors.New("invalid field value")
	ErrNoFields          = errors.New("point has no fields")
)

// metricNameRegex validates metric names: alphanumeric, underscores, dots,
// colons, dashes. Must start with a letter or underscore.
var metricNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.:-]*$`)

// identKeyRegex validates tag and field keys.
var identKeyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.-]*$`)

const (
	maxMetricNameLen = 256
	maxKeyLen        = 128
	maxTagValueLen   = 512
)

// Validate checks a point for well-formedness: a legal metric name, legal
// tag and field keys, no control characters in tag values, at least one
// field, and field values limited to int64, float64, bool, or string.
func (p *Point) Validate() error {
	if p.name == "" || len(p.name) > maxMetricNameLen || !metricNameRegex.MatchString(p.name) {
		return fmt.Errorf("%w: %q", ErrInvalidMetricName, p.name)
	}
	for _, t := range p.tags {
		if t.Key == "" || len(t.Key) > maxKeyLen || !identKeyRegex.MatchString(t.Key) {
			return fmt.Errorf("%w: %q", ErrInvalidTagKey, t.Key)
		}
		if len(t.Value) > maxTagValueLen {
			return fmt.Errorf("%w: %q", ErrInvalidTagValue, t.Value)
		}
		for _, r := range t.Value {
			if r < 32 && r != '\t' {
				return fmt.Errorf("%w: %q", ErrInvalidTagValue, t.Value)
			}
		}
	}
	if len(p.fields) == 0 {
		return ErrNoFields
	}
	for _, f := range p.fields {
		if f.Key == "" || len(f.Key) > maxKeyLen || !identKeyRegex.MatchString(f.Key) {
			return fmt.Errorf("%w: %q", ErrInvalidFieldKey, f.Key)
		}
		switch f.Value.(type) {
		case int64, float64, bool, string:
		default:
			return fmt.Errorf("%w: field %q has type %T", ErrInvalidFieldValue, f.Key, f.Value)
		}
	}
	return nil
}
