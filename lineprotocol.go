package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseLineProtocol parses a newline-joined line-protocol payload back
// into points, implementing the collector-side grammar: measurement and
// tags, a space, the field set, and an optional nanosecond timestamp.
// Escaped reserved characters are unescaped and quoted string field values
// are unquoted. Lines missing a timestamp are stamped with now.
func ParseLineProtocol(data []byte) ([]*Point, error) {
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	points := make([]*Point, 0, len(lines))
	now := time.Now()

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parseLine(line, now)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		points = append(points, p)
	}

	return points, nil
}

func parseLine(line string, now time.Time) (*Point, error) {
	s := &lineScanner{input: line}

	name := s.scanIdent()
	if name == "" {
		return nil, fmt.Errorf("missing measurement")
	}

	tags := make(map[string]string)
	for s.peek() == ',' {
		s.pos++
		key := s.scanIdent()
		if key == "" || s.peek() != '=' {
			return nil, fmt.Errorf("malformed tag after %q", name)
		}
		s.pos++
		tags[key] = s.scanIdent()
	}

	if s.peek() != ' ' {
		return nil, fmt.Errorf("missing field set")
	}
	s.pos++

	fields := make(map[string]any)
	for {
		key := s.scanIdent()
		if key == "" || s.peek() != '=' {
			return nil, fmt.Errorf("malformed field in %q", name)
		}
		s.pos++
		value, err := s.scanFieldValue()
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = value
		if s.peek() != ',' {
			break
		}
		s.pos++
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty field set")
	}

	ts := now
	if s.peek() == ' ' {
		s.pos++
		raw := s.rest()
		if raw != "" {
			ns, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bad timestamp %q", raw)
			}
			ts = time.Unix(0, ns)
		}
	} else if !s.done() {
		return nil, fmt.Errorf("trailing garbage %q", s.rest())
	}

	return NewPoint(name, tags, fields, ts), nil
}

// lineScanner walks one line, honoring backslash escapes of the reserved
// characters (comma, equals, space).
type lineScanner struct {
	input string
	pos   int
}

func (s *lineScanner) done() bool { return s.pos >= len(s.input) }

func (s *lineScanner) peek() byte {
	if s.done() {
		return 0
	}
	return s.input[s.pos]
}

func (s *lineScanner) rest() string { return s.input[s.pos:] }

// scanIdent reads a measurement, tag key, tag value, or field key: every
// character up to an unescaped reserved one.
func (s *lineScanner) scanIdent() string {
	var b strings.Builder
	for !s.done() {
		c := s.input[s.pos]
		if c == '\\' && s.pos+1 < len(s.input) {
			next := s.input[s.pos+1]
			if next == ',' || next == '=' || next == ' ' || next == '\\' {
				b.WriteByte(next)
				s.pos += 2
				continue
			}
		}
		if c == ',' || c == '=' || c == ' ' {
			break
		}
		b.WriteByte(c)
		s.pos++
	}
	return b.String()
}

func (s *lineScanner) scanFieldValue() (any, error) {
	if s.peek() == '"' {
		return s.scanQuoted()
	}

	start := s.pos
	for !s.done() {
		c := s.input[s.pos]
		if c == ',' || c == ' ' {
			break
		}
		s.pos++
	}
	raw := s.input[start:s.pos]
	if raw == "" {
		return nil, fmt.Errorf("empty value")
	}

	switch raw {
	case "t", "T", "true", "True", "TRUE":
		return true, nil
	case "f", "F", "false", "False", "FALSE":
		return false, nil
	}
	if strings.HasSuffix(raw, "i") {
		v, err := strconv.ParseInt(raw[:len(raw)-1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", raw)
		}
		return v, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("bad value %q", raw)
	}
	return v, nil
}

func (s *lineScanner) scanQuoted() (any, error) {
	s.pos++ // opening quote
	var b strings.Builder
	for !s.done() {
		c := s.input[s.pos]
		if c == '\\' && s.pos+1 < len(s.input) {
			next := s.input[s.pos+1]
			if next == '"' || next == '\\' {
				b.WriteByte(next)
				s.pos += 2
				continue
			}
		}
		if c == '"' {
			s.pos++
			return b.String(), nil
		}
		b.WriteByte(c)
		s.pos++
	}
	return nil, fmt.Errorf("unterminated string")
}
