package fewshot

import (
	"fmt"

	"github.com/unixpickle/anydiff"
)

// A Cost measures the error of a network's output.
//
// Just like Layers, a Cost function is batched.
// It takes a packed batch of desired outputs and actual
// outputs, and produces a batch of costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// NewCriterion creates the Cost registered under a
// criterion type name from an experiment configuration.
func NewCriterion(ctype string) (Cost, error) {
	switch ctype {
	case "CrossEntropyLoss":
		return CrossEntropy{}, nil
	case "MSELoss":
		return MSE{}, nil
	case "BCEWithLogitsLoss":
		return SigmoidCE{Average: true}, nil
	case "MultiMarginLoss":
		return MultiHinge{}, nil
	default:
		return nil, fmt.Errorf("unknown criterion type: %q", ctype)
	}
}

// DotCost computes the cost by taking the dot product of
// the desired and actual outputs, and then negating it.
//
// This is meant to be used with LogSoftmax activations.
type DotCost struct{}

// Cost takes the negated dot product of each actual
// output with each desired output.
func (d DotCost) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	comb := anydiff.Mul(desired, actual)
	dots := anydiff.SumCols(&anydiff.Matrix{
		Data: comb,
		Rows: n,
		Cols: comb.Output().Len() / n,
	})
	return anydiff.Scale(dots, dots.Output().Creator().MakeNumeric(-1))
}

// CrossEntropy applies a log-softmax to raw logits and
// measures the cross-entropy against one-hot (or soft)
// desired distributions.
type CrossEntropy struct{}

// Cost computes one cross-entropy value per sample.
func (c CrossEntropy) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	return DotCost{}.Cost(desired, LogSoftmax.Apply(actual, n), n)
}

// MSE evaluates cost as the squared Euclidean distance
// between the actual and desired output.
type MSE struct{}

// Cost computes, for each output, the mean squared
// distance between the actual and desired output value.
func (m MSE) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	neg := anydiff.Scale(actual, actual.Output().Creator().MakeNumeric(-1))
	diff := anydiff.Add(desired, neg)
	sq := anydiff.Square(diff)
	numComps := sq.Output().Len() / n
	sum := anydiff.SumCols(&anydiff.Matrix{
		Data: sq,
		Rows: n,
		Cols: numComps,
	})
	normalizer := 1.0 / float64(numComps)
	return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(normalizer))
}

// SigmoidCE combines a sigmoid output activation with
// cross-entropy loss.
type SigmoidCE struct {
	// Average indicates whether or not the cross-entropy
	// cost should be an average rather than a sum.
	Average bool
}

// Cost is mathematically equivalent to applying the
// sigmoid to each component of actual, then finding the
// cross-entropy loss.
func (s SigmoidCE) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	minusOne := actual.Output().Creator().MakeNumeric(-1)
	costProducts := anydiff.Pool(desired, func(desired anydiff.Res) anydiff.Res {
		return anydiff.Pool(actual, func(actual anydiff.Res) anydiff.Res {
			logRegular := anydiff.LogSigmoid(actual)
			logComplement := anydiff.LogSigmoid(anydiff.Scale(actual, minusOne))
			return anydiff.Add(
				anydiff.Mul(desired, logRegular),
				anydiff.Mul(anydiff.Complement(desired), logComplement),
			)
		})
	})
	res := anydiff.SumCols(&anydiff.Matrix{
		Data: costProducts,
		Rows: n,
		Cols: actual.Output().Len() / n,
	})
	d := -1.0
	if s.Average {
		d /= float64(actual.Output().Len() / n)
	}
	return anydiff.Scale(res, res.Output().Creator().MakeNumeric(d))
}

// MultiHinge is the multi-class margin loss.
//
// For a sample with correct class y, it computes
//
//     sum_{j != y} max(0, 1 - x[y] + x[j])
type MultiHinge struct{}

// Cost computes one hinge loss per sample.
// The desired outputs must be one-hot.
func (m MultiHinge) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	cols := actual.Output().Len() / n
	return anydiff.Pool(actual, func(actual anydiff.Res) anydiff.Res {
		c := actual.Output().Creator()
		correct := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Mul(desired, actual),
			Rows: n,
			Cols: cols,
		})
		ones := c.MakeVector(n * cols)
		ones.AddScalar(c.MakeNumeric(1))
		spread := ScaleRows(anydiff.NewConst(ones), correct)
		margins := anydiff.ClipPos(anydiff.AddScalar(anydiff.Sub(actual, spread),
			c.MakeNumeric(1)))
		return anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Mul(margins, anydiff.Complement(desired)),
			Rows: n,
			Cols: cols,
		})
	})
}
