package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"logx-detector/internal/rules"
	"logx-detector/internal/state"
)

// compareValues applies op to an event value and a condition literal. Numeric
// comparison is used when the operator allows it and both sides are finite numbers.
// A string event value is only read as a number for ordering operators, so = and !=
// on text fields stay exact.
func compareValues(actual any, op, expected string, regexes *regexCache) (bool, error) {
	canonical, ok := rules.NormalizeOperator(op)
	if !ok {
		return false, fmt.Errorf("unsupported operator %q", op)
	}

	_, isText := actual.(string)
	equality := canonical == rules.OpEqual || canonical == rules.OpNotEqual
	if rules.IsNumericOperator(canonical) && !(isText && equality) {
		if a, isNum := toFloat(actual); isNum {
			b, err := parseFinite(expected)
			if err == nil {
				return compareFloats(a, canonical, b), nil
			}
			if !equality {
				return false, fmt.Errorf("bad numeric literal %q: %w", expected, err)
			}
		}
	}

	text := toText(actual)
	switch canonical {
	case rules.OpEqual:
		return text == expected, nil
	case rules.OpNotEqual:
		return text != expected, nil
	case rules.OpContains:
		return strings.Contains(text, expected), nil
	case rules.OpStartsWith:
		return strings.HasPrefix(text, expected), nil
	case rules.OpEndsWith:
		return strings.HasSuffix(text, expected), nil
	case rules.OpMatches:
		re, err := regexes.get(expected)
		if err != nil {
			return false, err
		}
		return re.MatchString(text), nil
	}
	return false, fmt.Errorf("operator %q requires numeric operands, got %q", canonical, text)
}

func compareFloats(a float64, op string, b float64) bool {
	switch op {
	case rules.OpGreater:
		return a > b
	case rules.OpGreaterEqual:
		return a >= b
	case rules.OpLess:
		return a < b
	case rules.OpLessEqual:
		return a <= b
	case rules.OpEqual:
		return a == b
	case rules.OpNotEqual:
		return a != b
	}
	return false
}

func compareInts(count int, op string, threshold int) (bool, error) {
	canonical, ok := rules.NormalizeOperator(op)
	if !ok || !rules.IsNumericOperator(canonical) {
		return false, fmt.Errorf("unsupported count operator %q", op)
	}
	return compareFloats(float64(count), canonical, float64(threshold)), nil
}

// parseFinite parses a decimal literal, rejecting NaN and infinities.
func parseFinite(s string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return f, nil
}

// toFloat reports whether v is a number or a finite numeric string.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := parseFinite(t)
		return f, err == nil
	}
	return 0, false
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

type regexEntry struct {
	re  *regexp.Regexp
	err error
}

// regexCache memoizes compiled patterns, including compile failures.
type regexCache struct {
	store state.Store[*regexEntry]
}

func newRegexCache(store state.Store[*regexEntry]) *regexCache {
	return &regexCache{store: store}
}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	entry := c.store.Compute(pattern, func(cur *regexEntry, exists bool) (*regexEntry, bool) {
		if exists {
			return cur, true
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			err = fmt.Errorf("bad regex %q: %w", pattern, err)
		}
		return &regexEntry{re: re, err: err}, true
	})
	return entry.re, entry.err
}
