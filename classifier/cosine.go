// Package classifier implements cosine-similarity
// classifiers whose novel-category weights are generated
// from a few exemplars per episode.
package classifier

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var c Cosine
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeCosine)
}

// Options configures a new Cosine classifier.
type Options struct {
	// NumClasses is the number of base weight rows.
	NumClasses int

	// NumFeatures is the feature dimensionality.
	NumFeatures int

	// Scale is the initial logit scale.
	Scale float64

	// WeightGenerator names the novel weight generator.
	WeightGenerator string

	// BaseLabelIDs maps weight rows to dataset category
	// ids.
	// If it is nil, row i belongs to category i.
	BaseLabelIDs []int
}

// A Cosine classifier scores a feature vector against a
// weight vector as scale*cos(feature, weight).
//
// Base weights are learned and indexed by dataset category
// id through BaseLabelIDs.
// Novel weights are produced by the Generator for every
// episode and are never stored.
type Cosine struct {
	// BaseWeights is a row-major matrix with one row per
	// base category.
	BaseWeights *anydiff.Var

	// Scale is a single learned logit scale.
	Scale *anydiff.Var

	BaseLabelIDs []int
	Generator    Generator

	rows map[int]int
}

// NewCosine creates a classifier with random base weights.
func NewCosine(c anyvec.Creator, opts Options, rng *rand.Rand) (*Cosine, error) {
	if opts.NumClasses <= 0 || opts.NumFeatures <= 0 {
		return nil, errors.Errorf("new cosine classifier: invalid size %dx%d",
			opts.NumClasses, opts.NumFeatures)
	}
	ids := opts.BaseLabelIDs
	if ids == nil {
		for i := 0; i < opts.NumClasses; i++ {
			ids = append(ids, i)
		}
	} else if len(ids) != opts.NumClasses {
		return nil, errors.Errorf("new cosine classifier: %d base label ids for %d classes",
			len(ids), opts.NumClasses)
	}
	gen, err := NewGenerator(c, opts.WeightGenerator, opts.NumFeatures)
	if err != nil {
		return nil, errors.Wrap(err, "new cosine classifier")
	}

	weights := c.MakeVector(opts.NumClasses * opts.NumFeatures)
	anyvec.Rand(weights, anyvec.Normal, rng)
	weights.Scale(c.MakeNumeric(math.Sqrt(2 / float64(opts.NumFeatures))))

	scale := c.MakeVector(1)
	scale.AddScalar(c.MakeNumeric(opts.Scale))

	res := &Cosine{
		BaseWeights:  anydiff.NewVar(weights),
		Scale:        anydiff.NewVar(scale),
		BaseLabelIDs: append([]int{}, ids...),
		Generator:    gen,
	}
	if err := res.indexRows(); err != nil {
		return nil, err
	}
	return res, nil
}

// DeserializeCosine deserializes a Cosine classifier.
func DeserializeCosine(d []byte) (*Cosine, error) {
	var weights, scale *anyvecsave.S
	var idData serializer.Bytes
	var gen Generator
	if err := serializer.DeserializeAny(d, &weights, &scale, &idData, &gen); err != nil {
		return nil, essentials.AddCtx("deserialize Cosine", err)
	}
	idList, err := serializer.DeserializeSlice(idData)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Cosine", err)
	}
	res := &Cosine{
		BaseWeights: anydiff.NewVar(weights.Vector),
		Scale:       anydiff.NewVar(scale.Vector),
		Generator:   gen,
	}
	for _, x := range idList {
		id, ok := x.(serializer.Int)
		if !ok {
			return nil, errors.Errorf("deserialize Cosine: bad label id type %T", x)
		}
		res.BaseLabelIDs = append(res.BaseLabelIDs, int(id))
	}
	if err := res.indexRows(); err != nil {
		return nil, essentials.AddCtx("deserialize Cosine", err)
	}
	return res, nil
}

func (c *Cosine) indexRows() error {
	if c.BaseWeights.Vector.Len()%len(c.BaseLabelIDs) != 0 {
		return errors.New("weight count not divisible by class count")
	}
	c.rows = map[int]int{}
	for i, id := range c.BaseLabelIDs {
		if _, ok := c.rows[id]; ok {
			return errors.Errorf("duplicate base label id %d", id)
		}
		c.rows[id] = i
	}
	return nil
}

// NumFeatures returns the feature dimensionality.
func (c *Cosine) NumFeatures() int {
	return c.BaseWeights.Vector.Len() / len(c.BaseLabelIDs)
}

// An Input describes one episode's features.
type Input struct {
	// Kbase lists the dataset ids of the base categories;
	// logit column i belongs to Kbase[i].
	Kbase []int

	// Support holds NumNovel*NumExemplars feature rows
	// grouped by novel category.
	// It is nil when NumNovel is 0.
	Support      anydiff.Res
	NumNovel     int
	NumExemplars int

	// Query holds NumQuery feature rows.
	Query    anydiff.Res
	NumQuery int
}

// Logits computes the NumQuery x (len(Kbase)+NumNovel)
// score matrix of an episode, with base columns first.
//
// When the Generator is None and the episode has novel
// categories, evaluation falls back to plain feature
// averaging, while training fails.
func (c *Cosine) Logits(in *Input, training bool) (anydiff.Res, error) {
	nf := c.NumFeatures()
	if in.Query.Output().Len() != in.NumQuery*nf {
		return nil, errors.Errorf("logits: query size %d is not %dx%d",
			in.Query.Output().Len(), in.NumQuery, nf)
	}

	var weights []anydiff.Res
	for _, id := range in.Kbase {
		row, ok := c.rows[id]
		if !ok {
			return nil, errors.Errorf("logits: category %d has no base weights", id)
		}
		weights = append(weights, anydiff.Slice(c.BaseWeights, row*nf, (row+1)*nf))
	}

	if in.NumNovel > 0 {
		gen := c.Generator
		if _, ok := gen.(None); ok {
			if training {
				return nil, errors.New("logits: novel categories in training episode " +
					"without a weight generator")
			}
			gen = &FeatureAveraging{}
		}
		if in.Support == nil || in.Support.Output().Len() != in.NumNovel*in.NumExemplars*nf {
			return nil, errors.New("logits: support set does not match novel shape")
		}
		weights = append(weights, gen.GenerateRes(in.Support, in.NumNovel, in.NumExemplars))
	}
	numWeights := len(in.Kbase) + in.NumNovel
	if numWeights == 0 {
		return nil, errors.New("logits: episode has no categories")
	}

	weightMat := &anydiff.Matrix{
		Data: fewshot.NormalizeRows(anydiff.Concat(weights...), numWeights),
		Rows: numWeights,
		Cols: nf,
	}
	queryMat := &anydiff.Matrix{
		Data: fewshot.NormalizeRows(in.Query, in.NumQuery),
		Rows: in.NumQuery,
		Cols: nf,
	}
	cosines := anydiff.MatMul(false, true, queryMat, weightMat).Data
	zero := anydiff.NewConst(c.Scale.Vector.Creator().MakeVector(1))
	return anydiff.ScaleAddRepeated(cosines, c.Scale, zero), nil
}

// Parameters returns the base weights, the scale, and any
// generator parameters.
func (c *Cosine) Parameters() []*anydiff.Var {
	res := []*anydiff.Var{c.BaseWeights, c.Scale}
	return append(res, fewshot.AllParameters(c.Generator)...)
}

// SerializerType returns the unique ID used to serialize
// a Cosine with the serializer package.
func (c *Cosine) SerializerType() string {
	return "github.com/qinzhengmei/MABAS/classifier.Cosine"
}

// Serialize serializes the classifier.
func (c *Cosine) Serialize() ([]byte, error) {
	ids := make([]serializer.Serializer, len(c.BaseLabelIDs))
	for i, id := range c.BaseLabelIDs {
		ids[i] = serializer.Int(id)
	}
	idData, err := serializer.SerializeSlice(ids)
	if err != nil {
		return nil, err
	}
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: c.BaseWeights.Vector},
		&anyvecsave.S{Vector: c.Scale.Vector},
		serializer.Bytes(idData),
		c.Generator,
	)
}
