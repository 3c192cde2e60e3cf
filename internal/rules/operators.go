package rules

import "strings"

// Canonical comparison operators.
const (
	OpGreater      = ">"
	OpGreaterEqual = ">="
	OpLess         = "<"
	OpLessEqual    = "<="
	OpEqual        = "="
	OpNotEqual     = "!="
	OpContains     = "contains"
	OpStartsWith   = "startsWith"
	OpEndsWith     = "endsWith"
	OpMatches      = "matches"
)

var operatorAliases = map[string]string{
	">":          OpGreater,
	"gt":         OpGreater,
	">=":         OpGreaterEqual,
	"gte":        OpGreaterEqual,
	"<":          OpLess,
	"lt":         OpLess,
	"<=":         OpLessEqual,
	"lte":        OpLessEqual,
	"=":          OpEqual,
	"==":         OpEqual,
	"eq":         OpEqual,
	"!=":         OpNotEqual,
	"<>":         OpNotEqual,
	"ne":         OpNotEqual,
	"contains":   OpContains,
	"startswith": OpStartsWith,
	"endswith":   OpEndsWith,
	"matches":    OpMatches,
	"regex":      OpMatches,
}

// NormalizeOperator maps an operator spelling to its canonical form.
// The second result is false for unknown operators.
func NormalizeOperator(op string) (string, bool) {
	canonical, ok := operatorAliases[strings.ToLower(strings.TrimSpace(op))]
	return canonical, ok
}

// IsNumericOperator reports whether op can compare numbers.
func IsNumericOperator(op string) bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpEqual, OpNotEqual:
		return true
	}
	return false
}
