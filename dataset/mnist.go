package dataset

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/unixpickle/mnist"
)

// mnistValidationRatio is the fraction of the training
// images of base digits held out for the validation phase.
const mnistValidationRatio = 0.2

// The digits 0 through 4 are base categories and 5
// through 9 are novel.
const mnistFirstNovel = 5

var (
	mnistSubsets     map[string]*Subset
	mnistSubsetsOnce sync.Once
)

type mapSource map[string]*Subset

func (m mapSource) Subset(name string) (*Subset, error) {
	if s, ok := m[name]; ok {
		return s, nil
	}
	return nil, errors.Errorf("unknown subset: %s", name)
}

func mnistSource(opts *Options) (Source, error) {
	mnistSubsetsOnce.Do(func() {
		mnistSubsets = buildMNISTSubsets(mnist.LoadTrainingDataSet(),
			mnist.LoadTestingDataSet())
	})
	return mapSource(mnistSubsets), nil
}

func buildMNISTSubsets(train, test mnist.DataSet) map[string]*Subset {
	res := map[string]*Subset{}
	for _, name := range SubsetNames {
		res[name] = &Subset{Name: name, Dim: train.Width * train.Height}
	}
	add := func(name string, s mnist.Sample) {
		sub := res[name]
		for _, x := range s.Intensities {
			sub.Data = append(sub.Data, float32(x))
		}
		sub.Labels = append(sub.Labels, s.Label)
	}

	var baseTrain []mnist.Sample
	for _, s := range train.Samples {
		if s.Label < mnistFirstNovel {
			baseTrain = append(baseTrain, s)
		} else {
			add(CategorySplitVal, s)
		}
	}
	held, kept := HashSplit(len(baseTrain), func(i int) []byte {
		return hashFloats(baseTrain[i].Intensities)
	}, mnistValidationRatio)
	for _, i := range kept {
		add(TrainPhaseTrain, baseTrain[i])
	}
	for _, i := range held {
		add(TrainPhaseVal, baseTrain[i])
	}

	for _, s := range test.Samples {
		if s.Label < mnistFirstNovel {
			add(TrainPhaseTest, s)
		} else {
			add(CategorySplitTest, s)
		}
	}
	return res
}
