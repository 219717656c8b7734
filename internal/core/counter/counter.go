package counter

import (
	"errors"
	"fmt"
	"sort"
)

// Ceiling is the numeric safety ceiling for any single counter. Real usage
// never approaches this magnitude; a counter reaching it indicates corrupted
// upstream data and must stop the run rather than be retried.
const Ceiling = int64(1)<<53 - 1

// ErrOverflow is returned when an increment would push a counter past Ceiling.
// It is fatal: callers must surface it, never retry it.
var ErrOverflow = errors.New("counter exceeds safety ceiling")

// Accumulator holds running totals keyed by family and column. It is the
// in-memory working state of one aggregation run and is serialized verbatim
// into checkpoint payloads, so it must only ever grow (monotonic across
// resumes).
type Accumulator map[string]map[string]int64

// New returns an empty accumulator.
func New() Accumulator {
	return make(Accumulator)
}

// Add folds delta into (family, column), creating the cell if absent.
func (a Accumulator) Add(family, column string, delta int64) error {
	cols, ok := a[family]
	if !ok {
		cols = make(map[string]int64)
		a[family] = cols
	}
	next := cols[column] + delta
	if next >= Ceiling || next < 0 {
		return fmt.Errorf("%w: %s:%s %d + %d", ErrOverflow, family, column, cols[column], delta)
	}
	cols[column] = next
	return nil
}

// Get returns the counter value, or 0 when the cell is absent.
func (a Accumulator) Get(family, column string) int64 {
	return a[family][column]
}

// Family returns the column map for one family, which may be nil.
func (a Accumulator) Family(family string) map[string]int64 {
	return a[family]
}

// Columns returns the sorted column names of one family. Iteration over the
// accumulator's natural key space (publisher fan-out at publish time) must be
// deterministic so retried runs produce byte-identical output.
func (a Accumulator) Columns(family string) []string {
	cols := a[family]
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge folds every cell of other into a.
func (a Accumulator) Merge(other Accumulator) error {
	for family, cols := range other {
		for column, v := range cols {
			if err := a.Add(family, column, v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len returns the total number of non-empty cells.
func (a Accumulator) Len() int {
	n := 0
	for _, cols := range a {
		n += len(cols)
	}
	return n
}

// CeilDiv divides and rounds up. Every unit conversion in the billing path
// (ms to seconds, bytes to MB, grade weighting) rounds up, never down or to
// nearest.
func CeilDiv(value, unit int64) int64 {
	if unit <= 0 || value <= 0 {
		return 0
	}
	return (value + unit - 1) / unit
}

// CeilWeightedSeconds converts accumulated milliseconds weighted by grade
// into whole seconds, rounding up.
func CeilWeightedSeconds(ms, grade int64) int64 {
	return CeilDiv(ms*grade, 1000)
}
