package fewshot

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
	"go.uber.org/zap"
)

func init() {
	serializer.RegisterTypedDeserializer((&Stats{}).SerializerType(), DeserializeStats)
}

// Stats is a pass-through layer which logs the average
// activation mean and variance of its input batch.
//
// It is useful right after a feature extractor to spot
// collapsing or exploding features.
type Stats struct {
	// Logger receives the statistics.
	// If nil, nothing is logged.
	Logger *zap.Logger

	ID string
}

// DeserializeStats deserializes a Stats layer.
// The Logger will be nil.
func DeserializeStats(d []byte) (*Stats, error) {
	var res Stats
	if err := serializer.DeserializeAny(d, &res.ID); err != nil {
		return nil, err
	}
	return &res, nil
}

// Apply logs information about its input.
// The input is returned, untouched.
func (s *Stats) Apply(in anydiff.Res, n int) anydiff.Res {
	if s.Logger == nil {
		return in
	}
	cols := in.Output().Len() / n
	normalizer := in.Output().Creator().MakeNumeric(1 / float64(n))

	mean := anyvec.SumRows(in.Output(), cols)
	mean.Scale(normalizer)

	squared := in.Output().Copy()
	anyvec.Pow(squared, squared.Creator().MakeNumeric(2))
	variance := anyvec.SumRows(squared, cols)
	variance.Scale(normalizer)
	meanSq := mean.Copy()
	anyvec.Pow(meanSq, meanSq.Creator().MakeNumeric(2))
	variance.Sub(meanSq)

	s.Logger.Debug("activation statistics",
		zap.String("layer", s.ID),
		zap.Int("batch", n),
		zap.Float64("mean", average(mean)),
		zap.Float64("variance", average(variance)))
	return in
}

// SerializerType returns the unique ID used to serialize
// a Stats layer with the serializer package.
func (s *Stats) SerializerType() string {
	return "github.com/qinzhengmei/MABAS.Stats"
}

// Serialize serializes the layer.
func (s *Stats) Serialize() ([]byte, error) {
	return serializer.SerializeAny(s.ID)
}

func average(v anyvec.Vector) float64 {
	vals := Floats(v)
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, x := range vals {
		sum += x
	}
	return sum / float64(len(vals))
}

// Floats copies the contents of a float32 or float64
// vector into a []float64.
// Other numeric types yield nil.
func Floats(v anyvec.Vector) []float64 {
	switch data := v.Data().(type) {
	case []float32:
		res := make([]float64, len(data))
		for i, x := range data {
			res[i] = float64(x)
		}
		return res
	case []float64:
		return data
	default:
		return nil
	}
}
