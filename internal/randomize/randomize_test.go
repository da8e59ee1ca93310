package randomize_test

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/randomize"
)

func TestSampleQuestions(t *testing.T) {
	ids := []int64{10, 20, 30, 40, 50, 60, 70}

	tests := map[string]struct {
		k       int
		wantLen int
	}{
		"sample of 3":         {k: 3, wantLen: 3},
		"sample of all":       {k: 7, wantLen: 7},
		"sample of one":       {k: 1, wantLen: 1},
		"more than available": {k: 12, wantLen: 7},
		"negative is empty":   {k: -1, wantLen: 0},
		"zero is empty":       {k: 0, wantLen: 0},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := randomize.SampleQuestions(ids, tt.k)
			require.Len(t, got, tt.wantLen)

			seen := make(map[int64]bool)
			for _, id := range got {
				assert.Contains(t, ids, id)
				assert.False(t, seen[id], "ids should not repeat")
				seen[id] = true
			}
		})
	}

	require.Equal(t, []int64{10, 20, 30, 40, 50, 60, 70}, ids, "input should not be modified")
}

func TestShuffleOptions_IsDeterministicPermutation(t *testing.T) {
	opts := []int64{1, 2, 3, 4, 5, 6}
	started := time.Date(2026, 10, 17, 9, 30, 0, 123_000_000, time.UTC)

	for qid := int64(1); qid <= 50; qid++ {
		seed := randomize.OptionSeed("482913", qid, started)

		first := randomize.ShuffleOptions(opts, seed)
		again := randomize.ShuffleOptions(opts, randomize.OptionSeed("482913", qid, started))

		require.Equal(t, first, again, "same (pin, question, start) should give the same order")
		require.ElementsMatch(t, opts, first, "shuffle should be a permutation")
	}

	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, opts, "input should not be modified")
}

func TestOptionSeed(t *testing.T) {
	started := time.Date(2026, 10, 17, 9, 30, 0, 123_456_789, time.UTC)

	base := randomize.OptionSeed("482913", 7, started)

	assert.Equal(t, base, randomize.OptionSeed("482913", 7, started.Truncate(time.Millisecond)),
		"sub-millisecond precision should not change the seed")
	assert.Equal(t, base, randomize.OptionSeed("482913", 7, started.In(time.FixedZone("AZT", 4*3600))),
		"time zone should not change the seed")
	assert.NotEqual(t, base, randomize.OptionSeed("111111", 7, started), "other session")
	assert.NotEqual(t, base, randomize.OptionSeed("482913", 8, started), "other question")
	assert.NotEqual(t, base, randomize.OptionSeed("482913", 7, started.Add(time.Second)), "question re-asked later")
}

func TestShuffleOptions_SessionsDiffer(t *testing.T) {
	opts := []int64{1, 2, 3, 4, 5, 6}
	started := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

	orders := make(map[string]bool)
	for _, pin := range []string{"100001", "100002", "100003", "100004", "100005", "100006", "100007", "100008"} {
		got := randomize.ShuffleOptions(opts, randomize.OptionSeed(pin, 1, started))
		orders[formatOrder(got)] = true
	}

	assert.Greater(t, len(orders), 1, "different sessions should not all share one order")
}

func TestLabel(t *testing.T) {
	got := make([]string, 0, 8)
	for i := 0; i < 8; i++ {
		got = append(got, randomize.Label(i))
	}

	require.Equal(t, []string{"A", "B", "C", "D", "E", "F", "7", "8"}, got)
}

func formatOrder(ids []int64) string {
	b := make([]byte, 0, len(ids))
	for _, id := range slices.Clone(ids) {
		b = append(b, byte('0'+id))
	}
	return string(b)
}
