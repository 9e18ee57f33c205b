package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexInt decodes numbers the stats API sends either as JSON numbers or as
// strings. Missing, empty and non-numeric values decode to 0.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = 0
			return nil
		}
		raw = strings.TrimSpace(s)
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*f = FlexInt(n)
		return nil
	}
	if v, err := strconv.ParseFloat(raw, 64); err == nil {
		*f = FlexInt(int64(v))
		return nil
	}

	*f = 0
	return nil
}

// Int returns the value as an int, clamping negative counters to 0.
func (f FlexInt) Int() int {
	if f < 0 {
		return 0
	}
	return int(f)
}

// FlexBool follows the API's loose truthiness: true/false, non-zero numbers
// and the strings "1"/"true" are true.
type FlexBool bool

func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "", "null", "false", "0", `""`, `"0"`, `"false"`:
		*b = false
		return nil
	case "true":
		*b = true
		return nil
	}

	var n FlexInt
	_ = n.UnmarshalJSON(data)
	if n != 0 {
		*b = true
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = FlexBool(strings.EqualFold(strings.TrimSpace(s), "true"))
		return nil
	}

	*b = false
	return nil
}

// FlexString accepts identifiers sent as JSON strings or numbers. Values a
// bot roster entry carries instead of a pid (0, false, true, objects) decode
// to "".
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	*s = ""
	if len(data) == 0 {
		return nil
	}

	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = FlexString(strings.TrimSpace(v))
	case '{', '[', 't', 'f', 'n':
		// objects, arrays, booleans and null
	default:
		if v, err := strconv.ParseFloat(string(data), 64); err == nil && v != 0 {
			*s = FlexString(string(data))
		}
	}
	return nil
}
