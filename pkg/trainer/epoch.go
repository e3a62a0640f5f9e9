package trainer

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

// ReshufflePrefix shuffles order[:n] in place and leaves order[n:] untouched.
// When n covers the whole slice every element is shuffled; n <= 0 is a no-op.
func ReshufflePrefix(order []int, n int, rng *rand.Rand) {
	if n <= 0 {
		return
	}
	if n > len(order) {
		n = len(order)
	}
	prefix := order[:n]
	rng.Shuffle(len(prefix), func(i, j int) {
		prefix[i], prefix[j] = prefix[j], prefix[i]
	})
}

// ShuffleEdges returns up to k leading and k trailing block ids for logging.
func ShuffleEdges(order []int, k int) []int {
	if len(order) <= 2*k {
		return slices.Clone(order)
	}
	out := make([]int, 0, 2*k)
	out = append(out, order[:k]...)
	return append(out, order[len(order)-k:]...)
}

// CheckpointPath returns <prefix>-<epoch> with epoch zero-padded to width.
func CheckpointPath(prefix string, epoch, width int) string {
	return fmt.Sprintf("%s-%0*d", prefix, width, epoch)
}

// ErrCheckpointName is returned when a checkpoint name carries no epoch suffix.
var ErrCheckpointName = errors.New("checkpoint name has no epoch suffix")

// EpochFromCheckpoint parses the trailing width digits of a checkpoint name.
func EpochFromCheckpoint(path string, width int) (int, error) {
	name := filepath.Base(path)
	if len(name) < width {
		return 0, fmt.Errorf("%w: %q", ErrCheckpointName, name)
	}
	suffix := name[len(name)-width:]
	if strings.ContainsAny(suffix, "+- ") {
		return 0, fmt.Errorf("%w: %q", ErrCheckpointName, name)
	}
	epoch, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrCheckpointName, name)
	}
	return epoch, nil
}

// EpochLoss pairs a summed validation loss with its epoch.
type EpochLoss struct {
	Loss  float64
	Epoch int
}

// SelectBest returns the pair that sorts first by (Loss, Epoch) ascending, so
// an exact loss tie goes to the earlier epoch. NaN losses sort last.
func SelectBest(pairs []EpochLoss) (EpochLoss, bool) {
	if len(pairs) == 0 {
		return EpochLoss{}, false
	}
	sorted := slices.Clone(pairs)
	slices.SortStableFunc(sorted, compareEpochLoss)
	return sorted[0], true
}

func compareEpochLoss(a, b EpochLoss) int {
	an, bn := math.IsNaN(a.Loss), math.IsNaN(b.Loss)
	switch {
	case an && !bn:
		return 1
	case bn && !an:
		return -1
	case !an && a.Loss < b.Loss:
		return -1
	case !an && a.Loss > b.Loss:
		return 1
	}
	return a.Epoch - b.Epoch
}
