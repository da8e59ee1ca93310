// Package randomize holds the two kinds of randomness used by a live session.
//
// Question subset selection is drawn once per game from the global source and persisted.
// Option order is derived from a seed that only depends on values fixed when a question is
// published, so every later read of the same question reproduces the same order.
package randomize

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"
)

// pcgStream is the second PCG word; the first one is the per-question seed.
const pcgStream = 0x9e3779b97f4a7c15

var labels = []string{"A", "B", "C", "D", "E", "F"}

// SampleQuestions returns k distinct IDs drawn at random from ids, in draw order.
// k is clamped to [0, len(ids)].
func SampleQuestions(ids []int64, k int) []int64 {
	k = max(0, min(k, len(ids)))

	out := slices.Clone(ids)
	rand.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out[:k:k]
}

// OptionSeed derives the shuffle seed of a published question.
// startedAt is used at millisecond precision, the precision it is persisted with.
func OptionSeed(pin string, questionID int64, startedAt time.Time) uint64 {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", pin, questionID, startedAt.UnixMilli())))
	return binary.BigEndian.Uint64(sum[:8])
}

// ShuffleOptions returns a permutation of opts determined by seed. opts is not modified.
func ShuffleOptions[T any](opts []T, seed uint64) []T {
	out := slices.Clone(opts)

	r := rand.New(rand.NewPCG(seed, pcgStream))
	r.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})

	return out
}

// Label is the display label of the option at position i after shuffling.
func Label(i int) string {
	if i >= 0 && i < len(labels) {
		return labels[i]
	}

	return strconv.Itoa(i + 1)
}
