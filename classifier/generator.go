package classifier

import (
	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n None
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNone)
	var f FeatureAveraging
	serializer.RegisterTypedDeserializer(f.SerializerType(), DeserializeFeatureAveraging)
}

// A Generator produces classification weights for the
// novel categories of an episode from their exemplar
// features.
type Generator interface {
	serializer.Serializer

	// Generate maps every novel category id to its weight
	// vector.
	// The exemplar features of a category are ordered as in
	// the support set.
	Generate(baseWeights anyvec.Vector,
		exemplars map[int][]anyvec.Vector) (map[int]anyvec.Vector, error)

	// GenerateRes is the differentiable form of Generate.
	//
	// The support matrix holds nKnovel*nExemplars rows,
	// grouped by category.
	// The result has one row per novel category, or is nil
	// if the generator produces no novel weights.
	GenerateRes(support anydiff.Res, nKnovel, nExemplars int) anydiff.Res
}

// NewGenerator creates a generator from its configuration
// name.
// Affine generators start out as the identity.
func NewGenerator(c anyvec.Creator, name string, numFeatures int) (Generator, error) {
	switch name {
	case "none", "":
		return None{}, nil
	case "feature_averaging":
		return &FeatureAveraging{}, nil
	case "feature_averaging_affine":
		return &FeatureAveraging{Affine: fewshot.NewAffineIdentity(c, numFeatures)}, nil
	default:
		return nil, errors.Errorf("unknown weight generator type: %s", name)
	}
}

// None disables novel weight generation.
// It is used for base-category pretraining.
type None struct{}

// DeserializeNone deserializes a None.
func DeserializeNone(d []byte) (None, error) {
	return None{}, nil
}

// Generate returns an empty mapping.
func (n None) Generate(baseWeights anyvec.Vector,
	exemplars map[int][]anyvec.Vector) (map[int]anyvec.Vector, error) {
	return map[int]anyvec.Vector{}, nil
}

// GenerateRes returns nil.
func (n None) GenerateRes(support anydiff.Res, nKnovel, nExemplars int) anydiff.Res {
	return nil
}

// SerializerType returns the unique ID used to serialize
// a None with the serializer package.
func (n None) SerializerType() string {
	return "github.com/qinzhengmei/MABAS/classifier.None"
}

// Serialize serializes the generator.
func (n None) Serialize() ([]byte, error) {
	return []byte{}, nil
}

// FeatureAveraging computes a novel weight as the mean of
// the category's exemplar features, optionally passed
// through a learned Affine, and L2-normalized.
type FeatureAveraging struct {
	// Affine may be nil.
	Affine *fewshot.Affine
}

// DeserializeFeatureAveraging deserializes a
// FeatureAveraging generator.
func DeserializeFeatureAveraging(d []byte) (*FeatureAveraging, error) {
	if len(d) == 0 {
		return &FeatureAveraging{}, nil
	}
	var affine *fewshot.Affine
	if err := serializer.DeserializeAny(d, &affine); err != nil {
		return nil, essentials.AddCtx("deserialize FeatureAveraging", err)
	}
	return &FeatureAveraging{Affine: affine}, nil
}

// Generate averages the exemplars of each category.
func (f *FeatureAveraging) Generate(baseWeights anyvec.Vector,
	exemplars map[int][]anyvec.Vector) (map[int]anyvec.Vector, error) {
	res := map[int]anyvec.Vector{}
	for id, vecs := range exemplars {
		if len(vecs) == 0 {
			return nil, errors.Errorf("generate weights: category %d has no exemplars", id)
		}
		size := vecs[0].Len()
		for _, v := range vecs {
			if v.Len() != size {
				return nil, errors.Errorf("generate weights: category %d: feature size "+
					"mismatch (%d vs %d)", id, v.Len(), size)
			}
		}
		support := anydiff.NewConst(vecs[0].Creator().Concat(vecs...))
		res[id] = f.GenerateRes(support, 1, len(vecs)).Output()
	}
	return res, nil
}

// GenerateRes averages the exemplar rows of each
// category.
func (f *FeatureAveraging) GenerateRes(support anydiff.Res, nKnovel,
	nExemplars int) anydiff.Res {
	if nKnovel == 0 {
		return nil
	}
	rows := nKnovel * nExemplars
	if rows == 0 || support.Output().Len()%rows != 0 {
		panic("support size not divisible by exemplar count")
	}
	cols := support.Output().Len() / rows

	// Row i of the averaging matrix selects the exemplars
	// of category i.
	c := support.Output().Creator()
	avgData := make([]float64, nKnovel*rows)
	for i := 0; i < nKnovel; i++ {
		for j := 0; j < nExemplars; j++ {
			avgData[i*rows+i*nExemplars+j] = 1 / float64(nExemplars)
		}
	}
	avg := &anydiff.Matrix{
		Data: anydiff.NewConst(c.MakeVectorData(c.MakeNumericList(avgData))),
		Rows: nKnovel,
		Cols: rows,
	}
	means := anydiff.MatMul(false, false, avg, &anydiff.Matrix{
		Data: support,
		Rows: rows,
		Cols: cols,
	}).Data
	if f.Affine != nil {
		means = f.Affine.Apply(means, nKnovel)
	}
	return fewshot.NormalizeRows(means, nKnovel)
}

// Parameters returns the parameters of the Affine, if
// there is one.
func (f *FeatureAveraging) Parameters() []*anydiff.Var {
	if f.Affine == nil {
		return nil
	}
	return f.Affine.Parameters()
}

// SerializerType returns the unique ID used to serialize
// a FeatureAveraging with the serializer package.
func (f *FeatureAveraging) SerializerType() string {
	return "github.com/qinzhengmei/MABAS/classifier.FeatureAveraging"
}

// Serialize serializes the generator.
func (f *FeatureAveraging) Serialize() ([]byte, error) {
	if f.Affine == nil {
		return []byte{}, nil
	}
	return serializer.SerializeAny(f.Affine)
}
