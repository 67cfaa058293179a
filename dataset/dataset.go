// Package dataset provides the datasets of few-shot
// experiments as lists of feature vectors, together with
// the base/novel category split of each phase.
//
// Every dataset is organized into the same five subsets.
// The training phase uses train_phase_train alone; the
// validation and test phases combine held-out examples of
// the base categories with the novel categories of the
// val or test subset.
package dataset

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/qinzhengmei/MABAS/episode"
	"github.com/unixpickle/anyvec"
)

// A Phase is a stage of an experiment.
type Phase string

const (
	Train Phase = "train"
	Val   Phase = "val"
	Test  Phase = "test"
)

// ParsePhase parses a phase name.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case Train, Val, Test:
		return Phase(s), nil
	}
	return "", errors.Errorf("unknown phase: %q", s)
}

// Subset names.
const (
	TrainPhaseTrain   = "train_phase_train"
	TrainPhaseVal     = "train_phase_val"
	TrainPhaseTest    = "train_phase_test"
	CategorySplitVal  = "val"
	CategorySplitTest = "test"
)

// SubsetNames lists every subset of a dataset.
var SubsetNames = []string{TrainPhaseTrain, TrainPhaseVal, TrainPhaseTest,
	CategorySplitVal, CategorySplitTest}

// phaseSubsets returns the base and novel subsets of a
// phase.
func phaseSubsets(p Phase) (base, novel string) {
	switch p {
	case Val:
		return TrainPhaseVal, CategorySplitVal
	case Test:
		return TrainPhaseTest, CategorySplitTest
	default:
		return TrainPhaseTrain, ""
	}
}

// Subsets lists the subsets a phase reads.
func (p Phase) Subsets() []string {
	base, novel := phaseSubsets(p)
	if novel == "" {
		return []string{base}
	}
	return []string{base, novel}
}

// A Dataset holds the examples of one phase.
type Dataset struct {
	Name  string
	Phase Phase
	Dim   int

	// Split lists the base and novel categories.
	// Training phases have no novel categories.
	Split *episode.Split

	base  *Subset
	novel *Subset
}

func newDataset(name string, phase Phase, base, novel *Subset) (*Dataset, error) {
	res := &Dataset{Name: name, Phase: phase, Dim: base.Dim, base: base, novel: novel}
	var novelCats []int
	if novel != nil {
		if novel.Dim != base.Dim {
			return nil, errors.Errorf("dataset %s: base features have size %d but novel "+
				"features have size %d", name, base.Dim, novel.Dim)
		}
		novelCats = novel.Categories()
	}
	split, err := episode.NewSplit(base.Categories(), novelCats)
	if err != nil {
		return nil, errors.Wrapf(err, "dataset %s", name)
	}
	res.Split = split
	return res, nil
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	if d.novel == nil {
		return d.base.Len()
	}
	return d.base.Len() + d.novel.Len()
}

// Label returns the category of an example.
func (d *Dataset) Label(i int) int {
	if i < d.base.Len() {
		return d.base.Labels[i]
	}
	return d.novel.Labels[i-d.base.Len()]
}

// Vector returns the feature vector of an example.
// The result must not be modified.
func (d *Dataset) Vector(i int) []float32 {
	if i < d.base.Len() {
		return d.base.Vector(i)
	}
	return d.novel.Vector(i - d.base.Len())
}

// Labels returns the category of every example.
func (d *Dataset) Labels() []int {
	res := append([]int{}, d.base.Labels...)
	if d.novel != nil {
		res = append(res, d.novel.Labels...)
	}
	return res
}

// Sampler creates an episode sampler over the dataset.
func (d *Dataset) Sampler() (*episode.Sampler, error) {
	return episode.NewSampler(d.Split, episode.NewIndex(d.Labels()))
}

// Pack concatenates the feature vectors of examples.
func (d *Dataset) Pack(c anyvec.Creator, examples []episode.Example) anyvec.Vector {
	data := make([]float64, 0, len(examples)*d.Dim)
	for _, ex := range examples {
		for _, x := range d.Vector(ex.Index) {
			data = append(data, float64(x))
		}
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

func sortedInts(x []int) []int {
	sort.Ints(x)
	return x
}
