// Package distribution splits a recipient population across test variants.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/foxzi/sendry-ab/internal/models"
)

// SplitTolerance is the allowed deviation of the split sum from 100
const SplitTolerance = 0.01

var (
	ErrNoVariants   = errors.New("no variants configured")
	ErrInvalidSplit = errors.New("split percentages must sum to 100")
)

// Group is the set of recipients routed to one variant
type Group struct {
	Variant    models.Variant
	Recipients []models.Recipient
}

// NewRand returns a PCG-backed source. A zero seed is replaced by the current time.
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SplitSum returns the sum of the variants' split percentages
func SplitSum(variants []models.Variant) float64 {
	var sum float64
	for _, v := range variants {
		sum += v.SplitPercentage
	}
	return sum
}

// ValidSplit reports whether the split percentages sum to 100 within tolerance
func ValidSplit(variants []models.Variant) bool {
	return math.Abs(SplitSum(variants)-100) <= SplitTolerance+1e-9
}

// Assign shuffles recipients with rng and partitions them across variants.
// Variants are ordered by label; each but the last takes
// floor(N * split / 100) recipients in order and the last takes the rest,
// so every recipient lands in exactly one group. Inputs are not modified.
func Assign(rng *rand.Rand, recipients []models.Recipient, variants []models.Variant) ([]Group, error) {
	if len(variants) == 0 {
		return nil, ErrNoVariants
	}
	if !ValidSplit(variants) {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidSplit, SplitSum(variants))
	}

	if rng == nil {
		rng = NewRand(0)
	}

	shuffled := make([]models.Recipient, len(recipients))
	copy(shuffled, recipients)
	Shuffle(rng, shuffled)

	sorted := make([]models.Variant, len(variants))
	copy(sorted, variants)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Label < sorted[j].Label
	})

	n := len(shuffled)
	groups := make([]Group, 0, len(sorted))
	pos := 0
	for i, v := range sorted {
		end := n
		if i < len(sorted)-1 {
			// epsilon absorbs representation error such as 0.29*100
			count := int(math.Floor(float64(n)*v.SplitPercentage/100 + 1e-9))
			end = min(pos+count, n)
		}
		groups = append(groups, Group{Variant: v, Recipients: shuffled[pos:end:end]})
		pos = end
	}

	return groups, nil
}

// Shuffle permutes items in place with a Fisher-Yates shuffle
func Shuffle[T any](rng *rand.Rand, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		items[i], items[j] = items[j], items[i]
	}
}
