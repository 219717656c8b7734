package counter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_AddAndGet(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("wm", "season1", 200))
	require.NoError(t, a.Add("wm", "season1", 2200))
	require.NoError(t, a.Add("bm", "season1", 512))

	assert.Equal(t, int64(2400), a.Get("wm", "season1"))
	assert.Equal(t, int64(512), a.Get("bm", "season1"))
	assert.Equal(t, int64(0), a.Get("wm", "missing"))
	assert.Equal(t, 2, a.Len())
}

func TestAccumulator_OverflowIsFatal(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("wm", "s", Ceiling-10))

	err := a.Add("wm", "s", 10)
	require.ErrorIs(t, err, ErrOverflow)

	// Prior value stays intact after a rejected increment.
	assert.Equal(t, Ceiling-10, a.Get("wm", "s"))
}

func TestAccumulator_Merge(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("wm", "s1", 100))

	b := New()
	require.NoError(t, b.Add("wm", "s1", 50))
	require.NoError(t, b.Add("am", "s2", 7))

	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(150), a.Get("wm", "s1"))
	assert.Equal(t, int64(7), a.Get("am", "s2"))
}

func TestAccumulator_ColumnsSorted(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("pubm", "pub-c", 1))
	require.NoError(t, a.Add("pubm", "pub-a", 1))
	require.NoError(t, a.Add("pubm", "pub-b", 1))

	assert.Equal(t, []string{"pub-a", "pub-b", "pub-c"}, a.Columns("pubm"))
	assert.Empty(t, a.Columns("missing"))
}

func TestCeilDiv(t *testing.T) {
	tests := []struct {
		name  string
		value int64
		unit  int64
		want  int64
	}{
		{"exact", 2000, 1000, 2},
		{"rounds up", 2001, 1000, 3},
		{"sub-unit rounds up", 1, 1000, 1},
		{"zero", 0, 1000, 0},
		{"bytes to MiB", 1<<20 + 1, 1 << 20, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CeilDiv(tt.value, tt.unit))
		})
	}
}

func TestCeilWeightedSeconds(t *testing.T) {
	assert.Equal(t, int64(5), CeilWeightedSeconds(1000, 5))
	assert.Equal(t, int64(24), CeilWeightedSeconds(2400, 10))
	assert.Equal(t, int64(3), CeilWeightedSeconds(2001, 1))
}
