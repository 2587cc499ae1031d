package weft

// Predicate combinators for flow routing. Predicates run against the
// output payload of the completing task; missing fields simply don't
// match, they never error.

// Always returns a predicate that matches every payload. Useful for the
// mandatory branch of an OR split, where every flow carries a predicate.
func Always() PredicateFunc {
	return func(Payload) bool { return true }
}

// FieldEquals matches when the named field is present and equal to want.
func FieldEquals(field string, want any) PredicateFunc {
	return func(p Payload) bool {
		got, ok := p[field]
		if !ok {
			return false
		}
		if gn, gok := numericValue(got); gok {
			if wn, wok := numericValue(want); wok {
				return gn == wn
			}
		}
		return got == want
	}
}

// FieldAtLeast matches when the named field is numeric and >= min.
func FieldAtLeast(field string, min float64) PredicateFunc {
	return func(p Payload) bool {
		n, ok := numericValue(p[field])
		return ok && n >= min
	}
}

// FieldAtMost matches when the named field is numeric and <= max.
func FieldAtMost(field string, max float64) PredicateFunc {
	return func(p Payload) bool {
		n, ok := numericValue(p[field])
		return ok && n <= max
	}
}

// FieldSet matches when the named field is present and non-nil.
func FieldSet(field string) PredicateFunc {
	return func(p Payload) bool {
		v, ok := p[field]
		return ok && v != nil
	}
}

// FieldTrue matches when the named field holds the boolean true.
func FieldTrue(field string) PredicateFunc {
	return func(p Payload) bool {
		v, _ := p[field].(bool)
		return v
	}
}

// Not inverts a predicate.
func Not(pred PredicateFunc) PredicateFunc {
	return func(p Payload) bool { return !pred(p) }
}

// AllOf matches when every given predicate matches. With no arguments it
// matches everything.
func AllOf(preds ...PredicateFunc) PredicateFunc {
	return func(p Payload) bool {
		for _, pred := range preds {
			if !pred(p) {
				return false
			}
		}
		return true
	}
}

// AnyOf matches when at least one given predicate matches.
func AnyOf(preds ...PredicateFunc) PredicateFunc {
	return func(p Payload) bool {
		for _, pred := range preds {
			if pred(p) {
				return true
			}
		}
		return false
	}
}

// CardinalityFromField derives a multi-instance cardinality from the case
// payload: a numeric field yields its value, a slice field its length.
// Anything else yields fallback.
func CardinalityFromField(field string, fallback int) CardinalityFunc {
	return func(p Payload) int {
		switch v := p[field].(type) {
		case []any:
			return len(v)
		case []string:
			return len(v)
		default:
			if n, ok := numericValue(v); ok {
				return int(n)
			}
			return fallback
		}
	}
}

// numericValue coerces the numeric types a payload plausibly carries
// after deserialization.
func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
