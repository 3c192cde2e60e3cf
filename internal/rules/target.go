package rules

import "strings"

// Dimension names the event field a monitor target refers to.
type Dimension string

const (
	DimensionNone      Dimension = ""
	DimensionUser      Dimension = "userId"
	DimensionModule    Dimension = "module"
	DimensionIP        Dimension = "ip"
	DimensionOperation Dimension = "operation"
	// DimensionLiteral is a bare substring matched against module, operation or request URL.
	DimensionLiteral Dimension = "literal"
)

var targetPrefixes = []Dimension{DimensionUser, DimensionModule, DimensionIP, DimensionOperation}

// Target is a parsed monitor target.
type Target struct {
	Dimension Dimension
	Value     string
}

// IsZero reports whether the target is empty, meaning the rule applies to every event.
func (t Target) IsZero() bool {
	return t.Dimension == DimensionNone
}

// ParseTarget splits "dimension:value" targets. Anything without a known prefix, or
// with a prefix but no value, is a literal.
func ParseTarget(s string) Target {
	s = strings.TrimSpace(s)
	if s == "" {
		return Target{}
	}
	for _, d := range targetPrefixes {
		prefix := string(d) + ":"
		if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
			// A prefix with no value would select every event carrying the dimension.
			if v := strings.TrimSpace(s[len(prefix):]); v != "" {
				return Target{Dimension: d, Value: v}
			}
			break
		}
	}
	return Target{Dimension: DimensionLiteral, Value: s}
}

func (t Target) String() string {
	switch t.Dimension {
	case DimensionNone:
		return ""
	case DimensionLiteral:
		return t.Value
	}
	return string(t.Dimension) + ":" + t.Value
}
