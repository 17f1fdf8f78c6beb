package event

import (
	"errors"
	"testing"
	"time"
)

const createFrame = `{"action":"create","data":{"type":"Feature","geometry":{"type":"Point","coordinates":[25.4,38.1,-10.0]},"id":"20240102_0000031","properties":{"source_id":"1600123","source_catalog":"EMSC-RTS","lastupdate":"2024-01-02T03:05:00.0Z","time":"2024-01-02T03:04:05.6Z","flynn_region":"Aegean Sea","lat":38.1,"lon":25.4,"depth":10.0,"evtype":"ke","auth":"NOA","mag":6.2,"magtype":"mw","unid":"20240102_0000031"}}}`

func TestNormalizeCreateFrame(t *testing.T) {
	ev, err := Normalize([]byte(createFrame))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ID != "20240102_0000031" {
		t.Fatalf("unexpected id %q", ev.ID)
	}
	want := time.Date(2024, time.January, 2, 3, 4, 5, 600_000_000, time.UTC)
	if !ev.Time.Equal(want) {
		t.Fatalf("expected time %s, got %s", want, ev.Time)
	}
	if ev.RawTime != "2024-01-02T03:04:05.6Z" {
		t.Fatalf("raw time not preserved: %q", ev.RawTime)
	}
	if ev.Lat != 38.1 || ev.Lon != 25.4 || ev.Depth != 10 || ev.Mag != 6.2 {
		t.Fatalf("unexpected numerics: %+v", ev)
	}
	if ev.MagType != "mw" || ev.Region != "Aegean Sea" || ev.Auth != "NOA" {
		t.Fatalf("unexpected text fields: %+v", ev)
	}
	if ev.Severity() != SeverityHigh {
		t.Fatalf("expected high severity, got %s", ev.Severity())
	}
}

func TestNormalizeIgnoresOtherActions(t *testing.T) {
	for _, action := range []string{"update", "delete", "", "CREATE", " Create ", "create "} {
		raw := `{"action":"` + action + `","data":{"id":"x","properties":{"time":"2024-01-02T03:04:05Z","lat":1,"lon":2,"depth":3,"mag":4}}}`
		_, err := Normalize([]byte(raw))
		if !IsIgnored(err) {
			t.Fatalf("action %q: expected ErrIgnored, got %v", action, err)
		}
		if IsRejected(err) {
			t.Fatalf("action %q: ignored frame reported as rejected", action)
		}
	}
}

func TestNormalizeIgnoresNonCreateFramesOfAnyShape(t *testing.T) {
	frames := []string{
		`{"action":"update","data":{"id":12345,"properties":{"time":"2024-01-02T03:04:05Z"}}}`,
		`{"action":"delete","data":"gone"}`,
		`{"action":"delete","data":{"id":"x","properties":{"time":1704164645}}}`,
		`{"action":7,"data":{}}`,
		`{"data":{"id":"x"}}`,
		`[1,2,3]`,
		`"create"`,
	}
	for _, raw := range frames {
		_, err := Normalize([]byte(raw))
		if !IsIgnored(err) {
			t.Fatalf("%s: expected ErrIgnored, got %v", raw, err)
		}
		if IsRejected(err) {
			t.Fatalf("%s: ignored frame reported as rejected", raw)
		}
	}
}

func TestNormalizeCreateWithWrongShapeIsMalformed(t *testing.T) {
	_, err := Normalize([]byte(`{"action":"create","data":{"id":12345,"properties":{"time":"2024-01-02T03:04:05Z","lat":1,"lon":2,"depth":3,"mag":4}}}`))
	var fe *FieldError
	if !errors.As(err, &fe) || fe.Field != "data" {
		t.Fatalf("expected data field error, got %v", err)
	}
	if !IsRejected(err) {
		t.Fatalf("create frame with wrong shape should be rejected")
	}
}

func TestNormalizeParseError(t *testing.T) {
	_, err := Normalize([]byte(`{"action":"create",`))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	var pe *ParseError
	if !errors.As(err, &pe) || pe.Msg == "" {
		t.Fatalf("expected *ParseError with message, got %#v", err)
	}
	if !IsRejected(err) {
		t.Fatalf("parse error should count as rejected")
	}
}

func TestNormalizeFailsClosedOnMalformedFields(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		field string
	}{
		{"missing id", `{"action":"create","data":{"properties":{"time":"2024-01-02T03:04:05Z","lat":1,"lon":2,"depth":3,"mag":4}}}`, "id"},
		{"bad time", `{"action":"create","data":{"id":"a","properties":{"time":"yesterday","lat":1,"lon":2,"depth":3,"mag":4}}}`, "time"},
		{"missing mag", `{"action":"create","data":{"id":"a","properties":{"time":"2024-01-02T03:04:05Z","lat":1,"lon":2,"depth":3}}}`, "mag"},
		{"null depth", `{"action":"create","data":{"id":"a","properties":{"time":"2024-01-02T03:04:05Z","lat":1,"lon":2,"depth":null,"mag":4}}}`, "depth"},
		{"string lat", `{"action":"create","data":{"id":"a","properties":{"time":"2024-01-02T03:04:05Z","lat":"north","lon":2,"depth":3,"mag":4}}}`, "lat"},
		{"lon out of range", `{"action":"create","data":{"id":"a","properties":{"time":"2024-01-02T03:04:05Z","lat":1,"lon":200,"depth":3,"mag":4}}}`, "lon"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.raw))
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
			var fe *FieldError
			if !errors.As(err, &fe) || fe.Field != tc.field {
				t.Fatalf("expected field %q, got %#v", tc.field, err)
			}
		})
	}
}

func TestNormalizeAllowsNegativeDepthAndEmptyText(t *testing.T) {
	raw := `{"action":"create","data":{"id":"b","properties":{"time":"2024-01-02T03:04:05","lat":-12.5,"lon":-77,"depth":-1.5,"mag":-0.3}}}`
	ev, err := Normalize([]byte(raw))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.Depth != -1.5 || ev.Mag != -0.3 {
		t.Fatalf("unexpected numerics: %+v", ev)
	}
	if ev.Region != "" || ev.Auth != "" || ev.MagType != "" {
		t.Fatalf("expected empty text fields, got %+v", ev)
	}
	if ev.Time.Location() != time.UTC {
		t.Fatalf("zone-less time should be UTC, got %s", ev.Time.Location())
	}
}

func TestNormalizeFallsBackToUnid(t *testing.T) {
	raw := `{"action":"create","data":{"properties":{"unid":"u-1","time":"2024-01-02T03:04:05Z","lat":1,"lon":2,"depth":3,"mag":4}}}`
	ev, err := Normalize([]byte(raw))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if ev.ID != "u-1" {
		t.Fatalf("expected unid fallback, got %q", ev.ID)
	}
}

func TestSeverityBands(t *testing.T) {
	cases := map[float64]Severity{
		-1:  SeverityLow,
		3:   SeverityLow,
		3.1: SeverityModerate,
		5:   SeverityModerate,
		5.1: SeverityHigh,
	}
	for mag, want := range cases {
		if got := SeverityOf(mag); got != want {
			t.Fatalf("mag %.1f: expected %s, got %s", mag, want, got)
		}
	}
}
