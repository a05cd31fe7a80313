package timeutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type valueKind int

const (
	kindNull valueKind = iota
	kindISO
	kindUnix
)

// Value is a time argument produced by the planner. It arrives either as an
// ISO-8601 string, as Unix seconds, or as null.
type Value struct {
	kind valueKind
	iso  string
	unix int64
}

// Null is the absent time bound.
var Null = Value{}

func ISO(s string) Value {
	if strings.TrimSpace(s) == "" {
		return Null
	}
	return Value{kind: kindISO, iso: s}
}

func Unix(sec int64) Value {
	return Value{kind: kindUnix, unix: sec}
}

func (v Value) IsNull() bool {
	return v.kind == kindNull
}

func (v Value) String() string {
	switch v.kind {
	case kindISO:
		return v.iso
	case kindUnix:
		return strconv.FormatInt(v.unix, 10)
	}
	return "null"
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Null
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.EqualFold(strings.TrimSpace(s), "null") {
			*v = Null
			return nil
		}
		*v = ISO(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("time argument must be string, number or null: %w", err)
	}
	*v = Unix(int64(f))
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case kindISO:
		return json.Marshal(v.iso)
	case kindUnix:
		return json.Marshal(v.unix)
	}
	return []byte("null"), nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToUnix converts the value to Unix seconds.
func (v Value) ToUnix() (int64, error) {
	switch v.kind {
	case kindUnix:
		return v.unix, nil
	case kindISO:
		s := strings.TrimSpace(v.iso)
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return int64(n), nil
		}
		for _, layout := range isoLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.Unix(), nil
			}
		}
		return 0, fmt.Errorf("invalid timestamp format %q: provide ISO string or Unix number", v.iso)
	}
	return 0, fmt.Errorf("timestamp is null")
}

// Range is a normalized time window in Unix seconds. Nil bounds are open.
type Range struct {
	Start *int64 `json:"start_ts"`
	End   *int64 `json:"end_ts"`
	// EndClamped is set when the requested end fell outside the retention
	// window and was replaced by now.
	EndClamped bool `json:"-"`
}

func (r Range) Bounded() bool {
	return r.Start != nil || r.End != nil
}

// WithinRetention reports whether unix lies in [now-retention, now].
func WithinRetention(unix int64, now time.Time, retention time.Duration) bool {
	nowUnix := now.Unix()
	return unix >= nowUnix-int64(retention/time.Second) && unix <= nowUnix
}

// NormalizeRange converts planner time arguments into a Range. Two null
// bounds give an open range. An unparsable start is dropped. An end that is
// missing, unparsable or outside the retention window is clamped to now.
func NormalizeRange(start, end Value, now time.Time, retention time.Duration) Range {
	if start.IsNull() && end.IsNull() {
		return Range{}
	}

	var r Range
	if !start.IsNull() {
		if s, err := start.ToUnix(); err == nil {
			r.Start = &s
		}
	}

	nowUnix := now.Unix()
	e, err := end.ToUnix()
	if err != nil || !WithinRetention(e, now, retention) {
		r.End = &nowUnix
		r.EndClamped = true
		return r
	}
	r.End = &e
	return r
}
