package cronexpr

import "testing"

func TestParseFieldVariants(t *testing.T) {
	t.Parallel()
	minuteOpts := fieldOpts{min: 0, max: 59, allowStep: true}
	dowOpts := fieldOpts{min: 0, max: 6, allowRange: true}

	tests := []struct {
		name    string
		raw     string
		opts    fieldOpts
		match   []int
		noMatch []int
	}{
		{name: "wildcard", raw: "*", opts: minuteOpts, match: []int{0, 30, 59}},
		{name: "exact", raw: "7", opts: minuteOpts, match: []int{7}, noMatch: []int{6, 8, 0}},
		{name: "list", raw: "5,20,35", opts: minuteOpts, match: []int{5, 20, 35}, noMatch: []int{0, 6, 34}},
		{name: "unordered list", raw: "35,5,20", opts: minuteOpts, match: []int{5, 20, 35}, noMatch: []int{21}},
		{name: "step", raw: "*/15", opts: minuteOpts, match: []int{0, 15, 30, 45}, noMatch: []int{1, 14, 59}},
		{name: "dow range", raw: "1-5", opts: dowOpts, match: []int{1, 3, 5}, noMatch: []int{0, 6}},
		{name: "dow list with range", raw: "0,2-4", opts: dowOpts, match: []int{0, 2, 3, 4}, noMatch: []int{1, 5, 6}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseField(tt.raw, tt.opts)
			if err != nil {
				t.Fatalf("parseField(%q) error: %v", tt.raw, err)
			}
			for _, v := range tt.match {
				if !f.Matches(v) {
					t.Errorf("Matches(%d) = false, want true", v)
				}
			}
			for _, v := range tt.noMatch {
				if f.Matches(v) {
					t.Errorf("Matches(%d) = true, want false", v)
				}
			}
		})
	}
}

func TestParseFieldRejectsMalformed(t *testing.T) {
	t.Parallel()
	minuteOpts := fieldOpts{min: 0, max: 59, allowStep: true}
	dowOpts := fieldOpts{min: 0, max: 6, allowRange: true}

	tests := []struct {
		name string
		raw  string
		opts fieldOpts
	}{
		{name: "empty", raw: "", opts: minuteOpts},
		{name: "alpha", raw: "abc", opts: minuteOpts},
		{name: "out of range", raw: "60", opts: minuteOpts},
		{name: "negative", raw: "-5", opts: minuteOpts},
		{name: "zero step", raw: "*/0", opts: minuteOpts},
		{name: "alpha step", raw: "*/x", opts: minuteOpts},
		{name: "range where not allowed", raw: "1-5", opts: minuteOpts},
		{name: "step where not allowed", raw: "*/2", opts: dowOpts},
		{name: "inverted range", raw: "5-1", opts: dowOpts},
		{name: "range out of bounds", raw: "1-9", opts: dowOpts},
		{name: "empty list element", raw: "1,,3", opts: minuteOpts},
		{name: "trailing comma", raw: "1,2,", opts: minuteOpts},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseField(tt.raw, tt.opts); err == nil {
				t.Fatalf("parseField(%q) succeeded, want error", tt.raw)
			}
		})
	}
}

func TestNextAdmissible(t *testing.T) {
	t.Parallel()
	minuteOpts := fieldOpts{min: 0, max: 59, allowStep: true}
	dowOpts := fieldOpts{min: 0, max: 6, allowRange: true}

	tests := []struct {
		name     string
		raw      string
		opts     fieldOpts
		current  int
		min, max int
		want     int
	}{
		{name: "wildcard returns current", raw: "*", opts: minuteOpts, current: 17, min: 0, max: 59, want: 17},
		{name: "step in range", raw: "*/15", opts: minuteOpts, current: 7, min: 0, max: 59, want: 15},
		{name: "step at boundary", raw: "*/15", opts: minuteOpts, current: 45, min: 0, max: 59, want: 45},
		{name: "step wraps to floor multiple", raw: "*/15", opts: minuteOpts, current: 50, min: 0, max: 59, want: 0},
		{name: "list next up", raw: "5,20,35", opts: minuteOpts, current: 10, min: 0, max: 59, want: 20},
		{name: "list exact hit", raw: "5,20,35", opts: minuteOpts, current: 20, min: 0, max: 59, want: 20},
		{name: "list wraps", raw: "5,20,35", opts: minuteOpts, current: 40, min: 0, max: 59, want: 5},
		{name: "range below", raw: "2-5", opts: dowOpts, current: 0, min: 0, max: 6, want: 2},
		{name: "range inside", raw: "2-5", opts: dowOpts, current: 4, min: 0, max: 6, want: 4},
		{name: "range wraps", raw: "2-5", opts: dowOpts, current: 6, min: 0, max: 6, want: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseField(tt.raw, tt.opts)
			if err != nil {
				t.Fatalf("parseField(%q) error: %v", tt.raw, err)
			}
			got := f.NextAdmissible(tt.current, tt.min, tt.max)
			if got != tt.want {
				t.Fatalf("NextAdmissible(%d) = %d, want %d", tt.current, got, tt.want)
			}
		})
	}
}
