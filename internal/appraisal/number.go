package appraisal

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Number is a JSON numeric field that also accepts numeric strings such as
// "450,000" or "$120000". Set reports whether the field was present and
// non-null, so a missing required value can be told apart from zero.
type Number struct {
	Value float64
	Set   bool
}

// N returns a present Number.
func N(v float64) Number { return Number{Value: v, Set: true} }

// Or returns the value when present, otherwise def.
func (n Number) Or(def float64) float64 {
	if !n.Set {
		return def
	}
	return n.Value
}

var numberCleaner = strings.NewReplacer(",", "", "$", "", " ", "", "_", "")

// ParseNumber parses a user-entered amount, tolerating currency symbols and
// thousands separators. An empty string yields an unset Number.
func ParseNumber(s string) (Number, error) {
	clean := numberCleaner.Replace(strings.TrimSpace(s))
	if clean == "" {
		return Number{}, nil
	}
	f, err := strconv.ParseFloat(clean, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}, eris.Errorf("invalid number %q", s)
	}
	return N(f), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return eris.Wrap(err, "decode number string")
		}
		parsed, err := ParseNumber(s)
		if err != nil {
			return err
		}
		*n = parsed
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return eris.Wrapf(err, "invalid number %s", string(b))
	}
	*n = N(f)
	return nil
}

// MarshalJSON implements json.Marshaler. Unset numbers encode as null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}
