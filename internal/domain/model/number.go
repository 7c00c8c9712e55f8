// Package model contains the domain values read from downstream services.
//
// Downstream payloads are treated as untrusted. Numeric fields decode into
// Number, which records whether the wire value was a JSON number instead of
// failing the whole document. Identifiers decode into ID, which accepts a
// string or a number, and labels decode into Text. Neither fails on a value
// of the wrong type.
package model

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
)

var jsonNull = []byte("null")

// Number is an optional float decoded leniently from JSON.
// Any JSON number is valid; strings, booleans, objects, null and absent
// fields are invalid. Decoding never fails.
type Number struct {
	value float64
	valid bool
}

// NumberOf returns a valid Number holding v. NaN and infinities are invalid.
func NumberOf(v float64) Number {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Number{}
	}
	return Number{value: v, valid: true}
}

// Float64 returns the value and whether it is valid.
func (n Number) Float64() (float64, bool) {
	return n.value, n.valid
}

// Valid reports whether the wire value was numeric.
func (n Number) Valid() bool { return n.valid }

// Positive reports whether n is valid and strictly greater than zero.
func (n Number) Positive() bool { return n.valid && n.value > 0 }

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, jsonNull) {
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return nil //nolint:nilerr // non-numeric values are recorded as invalid
	}
	*n = NumberOf(v)
	return nil
}

// MarshalJSON implements json.Marshaler. Invalid numbers encode as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.valid {
		return jsonNull, nil
	}
	return []byte(strconv.FormatFloat(n.value, 'f', -1, 64)), nil
}

// ID is an opaque identifier that may arrive as a JSON string or number.
// Any other value decodes as the empty ID.
type ID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *ID) UnmarshalJSON(data []byte) error {
	*id = ""
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*id = ID(s)
		}
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var num json.Number
		if err := json.Unmarshal(data, &num); err == nil {
			*id = ID(num.String())
		}
	}
	return nil
}

// String returns the identifier as a string.
func (id ID) String() string { return string(id) }

// Text is a label decoded leniently: a JSON string keeps its value and
// anything else decodes as "".
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = ""
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(s)
	}
	return nil
}

// String returns the text as a string.
func (t Text) String() string { return string(t) }
