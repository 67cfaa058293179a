package optim

import (
	"fmt"
	"math"
)

// A LUTEntry holds the learning rate used up to and
// including a given (1-based) epoch.
type LUTEntry struct {
	Epoch int
	LR    float64
}

// A LUT is a step-wise learning rate schedule, given as a
// lookup table sorted by strictly increasing epochs.
//
// The rate for an epoch is the rate of the first entry
// whose threshold is at least that epoch; epochs past the
// final threshold keep the final rate.
type LUT []LUTEntry

// NewLUT creates a LUT from (epoch, rate) pairs and
// checks that thresholds strictly increase.
func NewLUT(pairs [][2]float64) (LUT, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("new LUT: empty table")
	}
	res := make(LUT, len(pairs))
	for i, p := range pairs {
		if p[0] != math.Trunc(p[0]) || p[0] < 1 {
			return nil, fmt.Errorf("new LUT: entry %d: epoch %v is not a positive integer", i, p[0])
		}
		if p[1] < 0 {
			return nil, fmt.Errorf("new LUT: entry %d: negative rate %v", i, p[1])
		}
		res[i] = LUTEntry{Epoch: int(p[0]), LR: p[1]}
		if i > 0 && res[i].Epoch <= res[i-1].Epoch {
			return nil, fmt.Errorf("new LUT: epochs must increase (%d after %d)",
				res[i].Epoch, res[i-1].Epoch)
		}
	}
	return res, nil
}

// RateForEpoch returns the learning rate for a 1-based
// epoch number.
func (l LUT) RateForEpoch(epoch int) float64 {
	for _, e := range l {
		if e.Epoch >= epoch {
			return e.LR
		}
	}
	return l[len(l)-1].LR
}

// Rate implements Rater.
// The fractional epoch counts completed passes from 0, so
// epoch 0.5 is halfway through epoch 1.
func (l LUT) Rate(epoch float64) float64 {
	return l.RateForEpoch(int(math.Floor(epoch)) + 1)
}
