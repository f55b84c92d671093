package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Compare evaluates one operator against an extracted event value. The
// comparison is permissive about representation: numbers compare
// numerically whether they arrive as float64, int, or numeric strings,
// everything else falls back to string comparison.
func Compare(op Operator, want, got any) bool {
	switch op {
	case OpEquals, "":
		if wf, gf, ok := bothNumeric(want, got); ok {
			return wf == gf
		}
		return asString(want) == asString(got)
	case OpContains:
		return strings.Contains(asString(got), asString(want))
	case OpMin:
		wf, gf, ok := bothNumeric(want, got)
		return ok && gf >= wf
	case OpMax:
		wf, gf, ok := bothNumeric(want, got)
		return ok && gf <= wf
	case OpIn:
		g := asString(got)
		for _, candidate := range asList(want) {
			if candidate == g {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func bothNumeric(a, b any) (float64, float64, bool) {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	return af, bf, aok && bok
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", x)
	}
}

// asList normalises the "in" operand: a JSON array, a []string, or a
// comma-separated string all become a string slice.
func asList(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			out = append(out, asString(e))
		}
		return out
	case string:
		parts := strings.Split(x, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	default:
		return []string{asString(v)}
	}
}
