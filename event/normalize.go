package event

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ActionCreate is the only feed action that yields an event.
const ActionCreate = "create"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrParse marks frames that are not valid JSON documents.
	ErrParse = errors.New("event: parse error")
	// ErrIgnored marks well-formed frames whose action is not "create".
	ErrIgnored = errors.New("event: action ignored")
	// ErrMalformed marks create frames with missing or invalid fields.
	ErrMalformed = errors.New("event: malformed create frame")
)

// ParseError carries the decoder message for a frame that failed to parse.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string {
	return "event: parse error: " + e.Msg
}

func (e *ParseError) Unwrap() error {
	return ErrParse
}

// FieldError names the property that made a create frame unusable.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("event: malformed create frame: %s %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error {
	return ErrMalformed
}

// frame mirrors the seismicportal standing-order message. Numeric
// properties stay raw so missing and mistyped values can be told apart
// from legitimate zeros.
type frame struct {
	Data struct {
		ID         string `json:"id"`
		Properties struct {
			Time        string              `json:"time"`
			Lat         jsoniter.RawMessage `json:"lat"`
			Lon         jsoniter.RawMessage `json:"lon"`
			Depth       jsoniter.RawMessage `json:"depth"`
			Mag         jsoniter.RawMessage `json:"mag"`
			MagType     string              `json:"magtype"`
			FlynnRegion string              `json:"flynn_region"`
			Auth        string              `json:"auth"`
			Unid        string              `json:"unid"`
		} `json:"properties"`
	} `json:"data"`
}

// Normalize converts one raw feed frame into an Event.
//
// Frames that are not JSON fail with a *ParseError (errors.Is ErrParse).
// Frames whose action is anything but the exact string "create" return
// ErrIgnored. Create frames are validated fail-closed: a missing id, an
// unparseable time, or a missing/non-numeric coordinate, depth or magnitude
// yields a *FieldError (errors.Is ErrMalformed). Text properties pass through as-is.
func Normalize(raw []byte) (Event, error) {
	if !json.Valid(raw) {
		var discard any
		msg := "invalid JSON"
		if err := json.Unmarshal(raw, &discard); err != nil {
			msg = err.Error()
		}
		return Event{}, &ParseError{Msg: msg}
	}
	// The action is read on its own so non-create frames are ignored
	// whatever shape their data has.
	action := jsoniter.Get(raw, "action")
	if action.ValueType() != jsoniter.StringValue || action.ToString() != ActionCreate {
		return Event{}, ErrIgnored
	}
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Event{}, &FieldError{Field: "data", Reason: "has unexpected shape: " + err.Error()}
	}

	props := f.Data.Properties
	id := strings.TrimSpace(f.Data.ID)
	if id == "" {
		id = strings.TrimSpace(props.Unid)
	}
	if id == "" {
		return Event{}, &FieldError{Field: "id", Reason: "is missing"}
	}
	when, err := ParseTime(props.Time)
	if err != nil {
		return Event{}, &FieldError{Field: "time", Reason: err.Error()}
	}

	ev := Event{
		ID:      id,
		Time:    when,
		RawTime: props.Time,
		MagType: props.MagType,
		Region:  props.FlynnRegion,
		Auth:    props.Auth,
	}
	if ev.Lat, err = number("lat", props.Lat); err != nil {
		return Event{}, err
	}
	if ev.Lon, err = number("lon", props.Lon); err != nil {
		return Event{}, err
	}
	if ev.Depth, err = number("depth", props.Depth); err != nil {
		return Event{}, err
	}
	if ev.Mag, err = number("mag", props.Mag); err != nil {
		return Event{}, err
	}
	if ev.Lat < -90 || ev.Lat > 90 {
		return Event{}, &FieldError{Field: "lat", Reason: "out of range"}
	}
	if ev.Lon < -180 || ev.Lon > 180 {
		return Event{}, &FieldError{Field: "lon", Reason: "out of range"}
	}
	return ev, nil
}

// IsIgnored reports whether err came from a non-create frame.
func IsIgnored(err error) bool {
	return errors.Is(err, ErrIgnored)
}

// IsRejected reports whether err means the frame was unusable (as opposed to
// deliberately ignored).
func IsRejected(err error) bool {
	return errors.Is(err, ErrParse) || errors.Is(err, ErrMalformed)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime accepts the ISO-8601 shapes the feed emits. Values without a zone
// are taken as UTC.
func ParseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, errors.New("is missing")
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not ISO-8601", raw)
}

func number(field string, raw jsoniter.RawMessage) (float64, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, &FieldError{Field: field, Reason: "is missing"}
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, &FieldError{Field: field, Reason: "is not a number"}
	}
	return v, nil
}
