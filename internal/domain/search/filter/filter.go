// Package filter models metadata filter predicates as a closed set of
// operators parsed from wire JSON. Unknown keys and malformed operator
// shapes are dropped at the boundary so a partially invalid filter never
// takes search down.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// keyRegex is the identifier pattern a metadata key must match to be
// usable in a predicate.
var keyRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidKey reports whether key is usable in a filter predicate.
func ValidKey(key string) bool {
	return keyRegex.MatchString(key)
}

// Op enumerates the supported predicate operators.
type Op int

const (
	// OpEquals matches a scalar for equality.
	OpEquals Op = iota
	// OpIn matches set membership.
	OpIn
	// OpLike matches a case-sensitive SQL LIKE pattern (% and _ wildcards).
	OpLike
	// OpILike matches a case-insensitive SQL LIKE pattern.
	OpILike
	// OpExists matches key presence or absence.
	OpExists
)

// Condition is a single predicate on one metadata key.
type Condition struct {
	key     string
	op      Op
	value   any
	values  []any
	pattern *regexp.Regexp
	exists  bool
}

// NewEquals creates an equality condition.
func NewEquals(key string, value any) (Condition, error) {
	if err := checkKey(key); err != nil {
		return Condition{}, err
	}
	if !isScalar(value) {
		return Condition{}, fmt.Errorf("equality value for %q must be a scalar", key)
	}
	return Condition{key: key, op: OpEquals, value: value}, nil
}

// NewIn creates a set-membership condition.
func NewIn(key string, values []any) (Condition, error) {
	if err := checkKey(key); err != nil {
		return Condition{}, err
	}
	if len(values) == 0 {
		return Condition{}, fmt.Errorf("$in for %q requires at least one value", key)
	}
	for _, v := range values {
		if !isScalar(v) {
			return Condition{}, fmt.Errorf("$in values for %q must be scalars", key)
		}
	}
	return Condition{key: key, op: OpIn, values: values}, nil
}

// NewLike creates a case-sensitive pattern condition.
func NewLike(key, pattern string) (Condition, error) {
	return newPattern(key, pattern, OpLike)
}

// NewILike creates a case-insensitive pattern condition.
func NewILike(key, pattern string) (Condition, error) {
	return newPattern(key, pattern, OpILike)
}

// NewExists creates a key presence/absence condition.
func NewExists(key string, exists bool) (Condition, error) {
	if err := checkKey(key); err != nil {
		return Condition{}, err
	}
	return Condition{key: key, op: OpExists, exists: exists}, nil
}

func newPattern(key, pattern string, op Op) (Condition, error) {
	if err := checkKey(key); err != nil {
		return Condition{}, err
	}
	re, err := compileLike(pattern, op == OpILike)
	if err != nil {
		return Condition{}, fmt.Errorf("pattern for %q: %w", key, err)
	}
	return Condition{key: key, op: op, pattern: re}, nil
}

// Key returns the metadata key the condition applies to.
func (c Condition) Key() string { return c.key }

// Operator returns the predicate operator.
func (c Condition) Operator() Op { return c.op }

// Matches evaluates the condition against a metadata mapping.
func (c Condition) Matches(metadata map[string]any) bool {
	v, present := metadata[c.key]
	if present && v == nil {
		present = false
	}

	switch c.op {
	case OpEquals:
		return present && scalarEqual(v, c.value)
	case OpIn:
		if !present {
			return false
		}
		for _, want := range c.values {
			if scalarEqual(v, want) {
				return true
			}
		}
		return false
	case OpLike, OpILike:
		s, ok := v.(string)
		return present && ok && c.pattern.MatchString(s)
	case OpExists:
		return present == c.exists
	default:
		return false
	}
}

// Filter is a conjunction of conditions over distinct metadata keys.
type Filter struct {
	conditions []Condition
}

// New creates a filter from validated conditions.
func New(conditions []Condition) Filter {
	return Filter{conditions: conditions}
}

// IsEmpty reports whether the filter has no conditions.
func (f Filter) IsEmpty() bool { return len(f.conditions) == 0 }

// Conditions returns the filter's conditions.
func (f Filter) Conditions() []Condition { return f.conditions }

// Matches reports whether all conditions hold for the given metadata.
func (f Filter) Matches(metadata map[string]any) bool {
	for _, c := range f.conditions {
		if !c.Matches(metadata) {
			return false
		}
	}
	return true
}

// ParseWire converts the wire filter shape into a Filter. Per contract,
// invalid keys and unrecognized operator shapes are dropped, never rejected:
// search stays available with whatever predicates survive.
//
// Wire shape per key: scalar (equality), or exactly one of
// {"$in": [...]}, {"$like": "pat"}, {"$ilike": "pat"}, {"$exists": bool}.
func ParseWire(raw map[string]any) Filter {
	if len(raw) == 0 {
		return Filter{}
	}

	conditions := make([]Condition, 0, len(raw))
	for key, spec := range raw {
		if c, ok := parseCondition(key, spec); ok {
			conditions = append(conditions, c)
		}
	}
	return New(conditions)
}

func parseCondition(key string, spec any) (Condition, bool) {
	if !ValidKey(key) {
		return Condition{}, false
	}

	opObj, isObj := spec.(map[string]any)
	if !isObj {
		c, err := NewEquals(key, spec)
		return c, err == nil
	}

	if len(opObj) != 1 {
		return Condition{}, false
	}

	for op, arg := range opObj {
		var (
			c   Condition
			err error
		)
		switch op {
		case "$in":
			values, ok := arg.([]any)
			if !ok {
				return Condition{}, false
			}
			c, err = NewIn(key, values)
		case "$like":
			pattern, ok := arg.(string)
			if !ok {
				return Condition{}, false
			}
			c, err = NewLike(key, pattern)
		case "$ilike":
			pattern, ok := arg.(string)
			if !ok {
				return Condition{}, false
			}
			c, err = NewILike(key, pattern)
		case "$exists":
			exists, ok := arg.(bool)
			if !ok {
				return Condition{}, false
			}
			c, err = NewExists(key, exists)
		default:
			return Condition{}, false
		}
		return c, err == nil
	}
	return Condition{}, false
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("key %q must match [a-zA-Z_][a-zA-Z0-9_]*", key)
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

// scalarEqual compares metadata and filter scalars, normalizing numeric
// types (wire JSON decodes numbers as float64).
func scalarEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// compileLike translates a SQL LIKE pattern (% any run, _ single rune)
// into an anchored regexp.
func compileLike(pattern string, caseInsensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	if caseInsensitive {
		b.WriteString("(?i)")
	}
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
