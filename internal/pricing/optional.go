package pricing

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// OptionalFloat is a JSON number that tolerates bad input. Numbers and
// numeric strings are accepted; anything else decodes as absent.
type OptionalFloat struct {
	Value float64
	Valid bool
}

// Float returns an OptionalFloat holding v
func Float(v float64) OptionalFloat {
	return OptionalFloat{Value: v, Valid: true}
}

// ParseOptionalFloat parses a form value, returning an absent value on failure
func ParseOptionalFloat(s string) OptionalFloat {
	s = strings.TrimSpace(s)
	if s == "" {
		return OptionalFloat{}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return OptionalFloat{}
	}
	return Float(v)
}

func (o *OptionalFloat) UnmarshalJSON(data []byte) error {
	*o = OptionalFloat{}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}

	switch val := v.(type) {
	case float64:
		*o = Float(val)
	case string:
		*o = ParseOptionalFloat(val)
	}
	return nil
}

func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid || math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
