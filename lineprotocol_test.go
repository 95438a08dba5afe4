package telemetry

import (
	"strings"
	"testing"
	"time"
)

func TestLineProtocolRoundTrip(t *testing.T) {
	ts := time.Unix(1700000000, 123456789)
	batch := []*Point{
		NewPoint("http_requests",
			map[string]string{"env": "prod", "host": "web-1"},
			map[string]any{"latency": 12.5, "count": int64(42), "ok": true, "route": "/items"},
			ts),
		NewPoint("disk_free", nil, map[string]any{"bytes": int64(1 << 30)}, ts.Add(time.Second)),
	}

	encoded, err := EncodeLineProtocol(batch)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	decoded, err := ParseLineProtocol(encoded)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(decoded) != len(batch) {
		t.Fatalf("expected %d points, got %d", len(batch), len(decoded))
	}

	for i, want := range batch {
		got := decoded[i]
		if got.Name() != want.Name() {
			t.Errorf("point %d: name %q != %q", i, got.Name(), want.Name())
		}
		wantTags, gotTags := want.Tags(), got.Tags()
		if len(wantTags) != len(gotTags) {
			t.Errorf("point %d: tag count %d != %d", i, len(gotTags), len(wantTags))
		}
		for k, v := range wantTags {
			if gotTags[k] != v {
				t.Errorf("point %d: tag %s = %q, want %q", i, k, gotTags[k], v)
			}
		}
		wantFields, gotFields := want.Fields(), got.Fields()
		if len(wantFields) != len(gotFields) {
			t.Errorf("point %d: field count %d != %d", i, len(gotFields), len(wantFields))
		}
		for k, v := range wantFields {
			if gotFields[k] != v {
				t.Errorf("point %d: field %s = %v (%T), want %v (%T)", i, k, gotFields[k], gotFields[k], v, v)
			}
		}
		if !got.Time().Equal(want.Time()) {
			t.Errorf("point %d: time %v != %v", i, got.Time(), want.Time())
		}
	}
}

func TestLineProtocolRoundTripEscaping(t *testing.T) {
	ts := time.Unix(42, 0)
	p := NewPoint("m",
		map[string]string{"path": "/var/lib, with space", "kv": "a=b"},
		map[string]any{"msg": `quote " and backslash \`},
		ts)

	encoded, err := EncodeLineProtocol([]*Point{p})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := ParseLineProtocol(encoded)
	if err != nil {
		t.Fatalf("parse: %v\npayload: %s", err, encoded)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 point, got %d", len(decoded))
	}

	got := decoded[0]
	if got.Tags()["path"] != "/var/lib, with space" {
		t.Errorf("tag path = %q", got.Tags()["path"])
	}
	if got.Tags()["kv"] != "a=b" {
		t.Errorf("tag kv = %q", got.Tags()["kv"])
	}
	if got.Fields()["msg"] != `quote " and backslash \` {
		t.Errorf("field msg = %q", got.Fields()["msg"])
	}
}

func TestParseLineProtocolExamples(t *testing.T) {
	payload := "cpu,host=a usage=0.5 1000\n" +
		"\n" +
		"mem free=100i,used=200i 2000\n" +
		"up alive=true\n"

	points, err := ParseLineProtocol([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %d", len(points))
	}

	if points[0].Name() != "cpu" || points[0].Tags()["host"] != "a" {
		t.Errorf("unexpected first point: %s %v", points[0].Name(), points[0].Tags())
	}
	if points[0].Time().UnixNano() != 1000 {
		t.Errorf("expected ns timestamp 1000, got %d", points[0].Time().UnixNano())
	}
	if points[1].Fields()["free"] != int64(100) || points[1].Fields()["used"] != int64(200) {
		t.Errorf("unexpected integer fields: %v", points[1].Fields())
	}
	if points[2].Fields()["alive"] != true {
		t.Errorf("unexpected bool field: %v", points[2].Fields())
	}
	// No timestamp on the last line: stamped with parse time.
	if time.Since(points[2].Time()) > time.Minute {
		t.Errorf("expected a recent timestamp, got %v", points[2].Time())
	}
}

func TestParseLineProtocolErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"no_fields", "cpu,host=a"},
		{"malformed_tag", "cpu,host usage=1"},
		{"malformed_field", "cpu usage"},
		{"bad_timestamp", "cpu usage=1 notanumber"},
		{"unterminated_string", `cpu msg="oops`},
		{"empty_value", "cpu usage="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseLineProtocol([]byte(tt.payload)); err == nil {
				t.Errorf("expected error for %q", tt.payload)
			} else if !strings.Contains(err.Error(), "line 1") {
				t.Errorf("error missing line context: %v", err)
			}
		})
	}
}
