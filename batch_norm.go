package fewshot

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	defaultBNStabilizer = 1e-5
	defaultBNMomentum   = 0.1
)

func init() {
	var b BatchNorm
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBatchNorm)
}

// BatchNorm normalizes each feature and then applies a
// learned affine transform.
//
// In training mode, a batch is normalized with its own
// statistics, which are also folded into running
// averages.
// In inference mode, the running averages are used, so
// every example is transformed independently of the rest
// of its batch.
// New layers start in inference mode; use SetTraining to
// switch a network.
//
// Training-mode Apply updates the running averages and is
// not safe for concurrent use.
type BatchNorm struct {
	// InputCount is the number of features per example.
	InputCount int

	Scalers *anydiff.Var
	Biases  *anydiff.Var

	// RunningMean and RunningVar estimate the population
	// statistics of each feature.
	RunningMean anyvec.Vector
	RunningVar  anyvec.Vector

	// Momentum is the weight of a training batch in the
	// running averages.
	// If it is 0, a default is used.
	Momentum float64

	// Stabilizer is added to variances to keep them away
	// from 0.
	// If it is 0, a default is used.
	Stabilizer float64

	Training bool
}

// DeserializeBatchNorm deserializes a BatchNorm.
// The result is in inference mode.
func DeserializeBatchNorm(d []byte) (*BatchNorm, error) {
	var s, b, mean, variance *anyvecsave.S
	var momentum, stab serializer.Float64
	err := serializer.DeserializeAny(d, &s, &b, &mean, &variance, &momentum, &stab)
	if err != nil {
		return nil, essentials.AddCtx("deserialize BatchNorm", err)
	}
	return &BatchNorm{
		InputCount:  s.Vector.Len(),
		Scalers:     anydiff.NewVar(s.Vector),
		Biases:      anydiff.NewVar(b.Vector),
		RunningMean: mean.Vector,
		RunningVar:  variance.Vector,
		Momentum:    float64(momentum),
		Stabilizer:  float64(stab),
	}, nil
}

// NewBatchNorm creates a BatchNorm with an input size.
// The running statistics start at mean 0 and variance 1.
func NewBatchNorm(c anyvec.Creator, inCount int) *BatchNorm {
	ones := c.MakeVector(inCount)
	ones.AddScalar(c.MakeNumeric(1))
	return &BatchNorm{
		InputCount:  inCount,
		Scalers:     anydiff.NewVar(ones.Copy()),
		Biases:      anydiff.NewVar(c.MakeVector(inCount)),
		RunningMean: c.MakeVector(inCount),
		RunningVar:  ones,
	}
}

// Apply normalizes a batch of inputs.
func (b *BatchNorm) Apply(in anydiff.Res, batch int) anydiff.Res {
	if in.Output().Len() != batch*b.InputCount {
		panic("invalid input size")
	}
	if !b.Training {
		return b.applyRunning(in)
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()

		negMean := negMeanRows(in, b.InputCount)
		secondMoment := meanSquare(in, b.InputCount)
		b.track(negMean.Output(), secondMoment.Output(), batch)
		variance := anydiff.Sub(secondMoment, anydiff.Square(negMean))

		variance = anydiff.AddScalar(variance, c.MakeNumeric(b.stabilizer()))
		normalizer := anydiff.Pow(variance, c.MakeNumeric(-0.5))

		totalScaler := anydiff.Mul(b.Scalers, normalizer)
		return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
			return anydiff.ScaleAddRepeated(
				in,
				totalScaler,
				anydiff.Add(b.Biases, anydiff.Mul(negMean, totalScaler)),
			)
		})
	})
}

// applyRunning computes the affine transform implied by
// the running statistics.
func (b *BatchNorm) applyRunning(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()
	invStd := b.RunningVar.Copy()
	invStd.AddScalar(c.MakeNumeric(b.stabilizer()))
	anyvec.Pow(invStd, c.MakeNumeric(-0.5))
	negMean := b.RunningMean.Copy()
	negMean.Scale(c.MakeNumeric(-1))

	totalScaler := anydiff.Mul(b.Scalers, anydiff.NewConst(invStd))
	return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
		return anydiff.ScaleAddRepeated(
			in,
			totalScaler,
			anydiff.Add(b.Biases, anydiff.Mul(anydiff.NewConst(negMean), totalScaler)),
		)
	})
}

// track folds the moments of a batch into the running
// averages, using the unbiased variance.
func (b *BatchNorm) track(negMean, secondMoment anyvec.Vector, rows int) {
	c := negMean.Creator()
	m := b.momentum()

	mean := negMean.Copy()
	mean.Scale(c.MakeNumeric(-1))
	variance := secondMoment.Copy()
	meanSq := mean.Copy()
	meanSq.Mul(mean)
	variance.Sub(meanSq)
	if rows > 1 {
		variance.Scale(c.MakeNumeric(float64(rows) / float64(rows-1)))
	}

	for _, pair := range [][2]anyvec.Vector{{b.RunningMean, mean}, {b.RunningVar, variance}} {
		running, batchStat := pair[0], pair[1]
		running.Scale(c.MakeNumeric(1 - m))
		batchStat.Scale(c.MakeNumeric(m))
		running.Add(batchStat)
	}
}

// Parameters returns the scales followed by the biases.
func (b *BatchNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{b.Scalers, b.Biases}
}

// Buffers returns the running mean and variance.
func (b *BatchNorm) Buffers() []anyvec.Vector {
	return []anyvec.Vector{b.RunningMean, b.RunningVar}
}

// SerializerType returns the unique ID used to serialize
// a BatchNorm with the serializer package.
func (b *BatchNorm) SerializerType() string {
	return "github.com/qinzhengmei/MABAS.BatchNorm"
}

// Serialize serializes the layer.
// The training flag is not saved.
func (b *BatchNorm) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: b.Scalers.Vector},
		&anyvecsave.S{Vector: b.Biases.Vector},
		&anyvecsave.S{Vector: b.RunningMean},
		&anyvecsave.S{Vector: b.RunningVar},
		serializer.Float64(b.Momentum),
		serializer.Float64(b.Stabilizer),
	)
}

func (b *BatchNorm) momentum() float64 {
	if b.Momentum == 0 {
		return defaultBNMomentum
	}
	return b.Momentum
}

func (b *BatchNorm) stabilizer() float64 {
	if b.Stabilizer == 0 {
		return defaultBNStabilizer
	}
	return b.Stabilizer
}
