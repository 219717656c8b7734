package keyspace

import (
	"fmt"
	"strings"
	"time"
)

// Separator joins row-key components. All sentinel characters below are chosen
// relative to its ASCII value ('#' = 0x23).
const Separator = "#"

const (
	// prefixUpperSentinel closes a prefix range. '+' (0x2B) sorts after '#',
	// so ["k#p#o", "k#p#o+") captures the row itself and every "k#p#o#..."
	// child, and nothing whose key merely shares "k#p#o" as a byte prefix.
	prefixUpperSentinel = "+"

	// afterSentinel starts a scan strictly after a cursor row and after all
	// of its '#'-joined children. '0' (0x30) sorts after both '#' and '+'.
	afterSentinel = "0"

	// betweenSentinel starts a scan strictly after a cursor row but before
	// its first child. '!' (0x21) sorts between the bare key and "key#...".
	betweenSentinel = "!"
)

// Kind identifies a row namespace within the shared sorted key space.
type Kind string

const (
	// Raw input rows, one per owner per day, cells incremented by ingestion.
	KindWatchRaw   Kind = "wr"
	KindStorageRaw Kind = "sr"
	KindUploadRaw  Kind = "ur"

	// Work-item queues. Existence of a row means the unit is pending.
	KindConsumerWatchDaily  Kind = "wd"
	KindPublisherWatchDaily Kind = "pd"
	KindPublisherStorageDay Kind = "sd"
	KindPublisherUploadDay  Kind = "ud"
	KindConsumerMonthly     Kind = "cm"
	KindPublisherMonthly    Kind = "pm"

	// Per-consumer watch breakdown rows consumed by the publisher daily stage.
	KindPublisherWatchChild Kind = "pw"

	// Final rollup rows. Owner precedes period so a month prefix scan over an
	// owner's keys captures exactly that month's daily rows.
	KindConsumerDailyFinal    Kind = "cf"
	KindConsumerMonthlyFinal  Kind = "cmf"
	KindPublisherDailyFinal   Kind = "pf"
	KindPublisherMonthlyFinal Kind = "pmf"
)

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// Period is a zero-padded ISO-8601 day ("2006-01-02") or month ("2006-01").
// Zero padding makes lexicographic order equal calendar order, which the
// whole key space depends on.
type Period string

// DayOf returns the day period containing t (UTC).
func DayOf(t time.Time) Period {
	return Period(t.UTC().Format(dayLayout))
}

// MonthOf returns the month period containing t (UTC).
func MonthOf(t time.Time) Period {
	return Period(t.UTC().Format(monthLayout))
}

// ParseDay validates a day period string.
func ParseDay(s string) (Period, error) {
	if _, err := time.Parse(dayLayout, s); err != nil {
		return "", fmt.Errorf("invalid day period %q: %w", s, err)
	}
	return Period(s), nil
}

// ParseMonth validates a month period string.
func ParseMonth(s string) (Period, error) {
	if _, err := time.Parse(monthLayout, s); err != nil {
		return "", fmt.Errorf("invalid month period %q: %w", s, err)
	}
	return Period(s), nil
}

// Month returns the month containing a day period, or the period itself when
// it is already month-granular.
func (p Period) Month() Period {
	if len(p) >= len(monthLayout) {
		return p[:len(monthLayout)]
	}
	return p
}

// IsDay reports whether the period is day-granular.
func (p Period) IsDay() bool { return len(p) == len(dayLayout) }

// WorkKey builds a work-item or raw-input row key: <kind>#<period>#<owner>.
func WorkKey(kind Kind, period Period, ownerID string) string {
	return string(kind) + Separator + string(period) + Separator + ownerID
}

// ChildKey builds an intermediate child row key:
// <kind>#<period>#<parentOwner>#<childOwner>.
func ChildKey(kind Kind, period Period, parentID, childID string) string {
	return WorkKey(kind, period, parentID) + Separator + childID
}

// FinalKey builds a final rollup row key: <kind>#<owner>#<period>.
func FinalKey(kind Kind, ownerID string, period Period) string {
	return string(kind) + Separator + ownerID + Separator + string(period)
}

// ParsedKey is the decomposed form of a work-item or child row key.
type ParsedKey struct {
	Kind    Kind
	Period  Period
	OwnerID string
	ChildID string // empty for work-item keys
}

// ParseWorkKey decomposes <kind>#<period>#<owner>[#<child>].
func ParseWorkKey(key string) (ParsedKey, error) {
	parts := strings.Split(key, Separator)
	if len(parts) < 3 || len(parts) > 4 {
		return ParsedKey{}, fmt.Errorf("malformed work key %q: want 3 or 4 segments, got %d", key, len(parts))
	}
	for i, p := range parts {
		if p == "" {
			return ParsedKey{}, fmt.Errorf("malformed work key %q: empty segment %d", key, i)
		}
	}
	pk := ParsedKey{
		Kind:    Kind(parts[0]),
		Period:  Period(parts[1]),
		OwnerID: parts[2],
	}
	if len(parts) == 4 {
		pk.ChildID = parts[3]
	}
	return pk, nil
}

// Range is a half-open scan interval [Start, End) over row keys. Building
// ranges through the constructors below keeps every sentinel choice in one
// place instead of scattering string concatenation through the engine.
type Range struct {
	Start string
	End   string
}

// PrefixRange returns the range covering a key and all of its '#'-joined
// descendants, and nothing else.
func PrefixRange(prefix string) Range {
	return Range{Start: prefix, End: prefix + prefixUpperSentinel}
}

// ChildRange returns the range of all children of one parent for one period,
// excluding the parent row itself.
func ChildRange(kind Kind, period Period, parentID string) Range {
	parent := WorkKey(kind, period, parentID)
	return Range{Start: parent + Separator, End: parent + prefixUpperSentinel}
}

// MonthRange returns the range of an owner's final rows for every day of a
// month. Day keys extend their month string with '-' (0x2D), which sorts
// after the '+' prefix sentinel, so the bound reuses afterSentinel instead:
// '0' sorts after every day of the month and before the next month's digits.
func MonthRange(kind Kind, ownerID string, month Period) Range {
	prefix := FinalKey(kind, ownerID, month)
	return Range{Start: prefix, End: prefix + afterSentinel}
}

// After returns the first key strictly greater than cursorKey and all of its
// '#'-joined children. Resuming a scan here never re-reads the cursor row.
func After(cursorKey string) string {
	return cursorKey + afterSentinel
}

// AfterSelf returns the first key strictly greater than cursorKey but before
// any of its '#'-joined children. Used when a resumed scan must still visit
// the cursor row's own sub-rows.
func AfterSelf(cursorKey string) string {
	return cursorKey + betweenSentinel
}

// QueueRange returns the full pending-work range for one kind, ending just
// before the given period. Scans bounded by UpperBound(kind, today) can never
// observe the still-open current period.
func QueueRange(kind Kind, before Period) Range {
	return Range{
		Start: string(kind) + Separator,
		End:   UpperBound(kind, before),
	}
}

// UpperBound returns the exclusive scan bound "<kind>#<period>". Every key of
// the kind with a period lexicographically (= chronologically) earlier than
// the bound period sorts below it; the bound period itself is excluded.
func UpperBound(kind Kind, period Period) string {
	return string(kind) + Separator + string(period)
}
