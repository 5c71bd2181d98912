package signature

import (
	"math"
	"strconv"
	"strings"
)

// Result is the outcome of parsing a reply. Missing lists output fields with
// no marker in the reply; Fallbacks lists numeric fields whose text could not
// be converted and were kept as the raw string. Neither is an error.
type Result struct {
	Values    *Values
	Missing   []string
	Fallbacks []string
}

// Parse extracts the output fields from a complete reply. It never fails:
// absent fields map to nil and unparseable numbers keep their raw text.
func Parse(reply string, outputs []Field) *Values {
	return ParseWithResult(reply, outputs).Values
}

// ParseWithResult is Parse with details on missing fields and coercion
// fallbacks.
func ParseWithResult(reply string, outputs []Field) Result {
	sc := NewScanner()
	sc.Write(reply)
	return ParseScanner(sc, outputs, false)
}

// ParsePartial parses a reply that is still arriving. See Scanner.Raw for how
// the unfinished last line is treated.
func ParsePartial(reply string, outputs []Field) *Values {
	sc := NewScanner()
	sc.Write(reply)
	return ParseScanner(sc, outputs, true).Values
}

// ParseScanner parses whatever sc has accumulated so far. Callers feeding a
// stream keep one scanner and call this after each chunk.
func ParseScanner(sc *Scanner, outputs []Field, partial bool) Result {
	raw := sc.Raw(partial)
	res := Result{Values: NewValues()}

	for _, f := range outputs {
		text, ok := raw[f.Name]
		if !ok {
			res.Values.Set(f.Name, nil)
			res.Missing = append(res.Missing, f.Name)
			continue
		}
		value, fellBack := Coerce(text, f.Type)
		if fellBack {
			res.Fallbacks = append(res.Fallbacks, f.Name)
		}
		res.Values.Set(f.Name, value)
	}
	return res
}

// Coerce converts raw text to the Go value for t:
//
//	bool   true only for "true" in any letter case, false otherwise
//	int    int64, or raw unchanged when it is not an integer
//	float  float64, or raw unchanged when it is not a finite number
//	string raw unchanged
//
// The second result reports a numeric conversion that fell back to raw.
func Coerce(raw string, t FieldType) (any, bool) {
	switch t {
	case TypeBool:
		return strings.EqualFold(raw, "true"), false
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return raw, true
		}
		return n, false
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		// NaN and ±Inf have no JSON form and never compare equal to themselves.
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return raw, true
		}
		return f, false
	default:
		return raw, false
	}
}
