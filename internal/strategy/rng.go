package strategy

import (
	"math/rand"
	"time"
)

// DeriveRNG builds the per-rebalance RNG stream for random_n: derived
// deterministically from (strategy_seed, date_ordinal) so that inserting a
// new date or reordering strategies in config never perturbs any other
// date's stream, per the design note on RNG reproducibility.
func DeriveRNG(strategySeed int64, date time.Time) *rand.Rand {
	ordinal := date.Unix() / int64(24*time.Hour/time.Second)
	return rand.New(rand.NewSource(splitMix(strategySeed, ordinal)))
}

// splitMix combines two 64-bit values into one well-mixed seed using the
// SplitMix64 finalizer, avoiding the weak low-bit correlation a plain sum
// or xor would introduce between nearby dates.
func splitMix(seed, salt int64) int64 {
	z := uint64(seed) + 0x9E3779B97F4A7C15 + uint64(salt)*0xBF58476D1CE4E5B9
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	z = z ^ (z >> 31)
	return int64(z)
}
