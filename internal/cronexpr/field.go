package cronexpr

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type fieldKind int

const (
	kindWildcard fieldKind = iota
	kindStep
	kindList
	kindRange
)

// Field is one parsed position of a cron expression, reduced to a tagged
// variant so matching and next-value computation are total over a closed
// set of cases. Extending the grammar means adding a variant, not
// touching control flow.
type Field struct {
	kind   fieldKind
	step   int
	values []int // sorted ascending, kindList only
	lo, hi int   // kindRange only
}

// fieldOpts controls which variants a position accepts.
type fieldOpts struct {
	min, max   int
	allowStep  bool // "*/N"
	allowRange bool // "a-b", also as comma-list elements
}

func parseField(raw string, opts fieldOpts) (Field, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Field{}, fmt.Errorf("empty field")
	}

	if raw == "*" {
		return Field{kind: kindWildcard}, nil
	}

	if strings.HasPrefix(raw, "*/") {
		if !opts.allowStep {
			return Field{}, fmt.Errorf("step values not allowed in %q", raw)
		}
		n, err := strconv.Atoi(raw[2:])
		if err != nil {
			return Field{}, fmt.Errorf("invalid step in %q", raw)
		}
		if n <= 0 || n > opts.max {
			return Field{}, fmt.Errorf("step out of range in %q", raw)
		}
		return Field{kind: kindStep, step: n}, nil
	}

	// A single "a-b" range keeps its own variant; ranges inside comma
	// lists are expanded into explicit values below.
	if opts.allowRange && !strings.Contains(raw, ",") && strings.Contains(raw, "-") {
		lo, hi, err := parseRange(raw, opts)
		if err != nil {
			return Field{}, err
		}
		return Field{kind: kindRange, lo: lo, hi: hi}, nil
	}

	var values []int
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return Field{}, fmt.Errorf("empty value in %q", raw)
		}
		if opts.allowRange && strings.Contains(tok, "-") {
			lo, hi, err := parseRange(tok, opts)
			if err != nil {
				return Field{}, err
			}
			for v := lo; v <= hi; v++ {
				values = append(values, v)
			}
			continue
		}
		v, err := parseValue(tok, opts)
		if err != nil {
			return Field{}, err
		}
		values = append(values, v)
	}
	sort.Ints(values)
	values = dedupe(values)
	return Field{kind: kindList, values: values}, nil
}

func parseValue(tok string, opts fieldOpts) (int, error) {
	v, err := strconv.Atoi(tok)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", tok)
	}
	if v < opts.min || v > opts.max {
		return 0, fmt.Errorf("value %d out of range [%d,%d]", v, opts.min, opts.max)
	}
	return v, nil
}

func parseRange(tok string, opts fieldOpts) (lo, hi int, err error) {
	parts := strings.SplitN(tok, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid range %q", tok)
	}
	lo, err = parseValue(parts[0], opts)
	if err != nil {
		return 0, 0, err
	}
	hi, err = parseValue(parts[1], opts)
	if err != nil {
		return 0, 0, err
	}
	if lo > hi {
		return 0, 0, fmt.Errorf("inverted range %q", tok)
	}
	return lo, hi, nil
}

func dedupe(sorted []int) []int {
	out := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			out = append(out, v)
		}
	}
	return out
}

// Matches reports whether value satisfies the field.
func (f Field) Matches(value int) bool {
	switch f.kind {
	case kindWildcard:
		return true
	case kindStep:
		return value%f.step == 0
	case kindList:
		for _, v := range f.values {
			if v == value {
				return true
			}
		}
		return false
	case kindRange:
		return value >= f.lo && value <= f.hi
	default:
		return false
	}
}

// NextAdmissible returns the smallest admissible value >= current within
// [min,max], wrapping to the smallest admissible value overall when none
// remains in range. A result smaller than current therefore means
// "wrapped into the next cycle".
func (f Field) NextAdmissible(current, min, max int) int {
	switch f.kind {
	case kindWildcard:
		return current
	case kindStep:
		for v := current; v <= max; v++ {
			if v%f.step == 0 {
				return v
			}
		}
		// Wrap: the floor multiple at the start of the next cycle.
		return ((min + f.step - 1) / f.step) * f.step
	case kindList:
		for _, v := range f.values {
			if v >= current {
				return v
			}
		}
		return f.values[0]
	case kindRange:
		if current <= f.lo {
			return f.lo
		}
		if current <= f.hi {
			return current
		}
		return f.lo
	default:
		return current
	}
}
