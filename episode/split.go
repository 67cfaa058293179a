// Package episode samples few-shot episodes from a
// base/novel category split.
package episode

import (
	"sort"

	"github.com/pkg/errors"
)

// A Split partitions the categories of one experiment
// phase into base and novel categories.
//
// During training no novel categories exist; "novel"
// categories of training episodes are then drawn from the
// base set.
type Split struct {
	Base  []int
	Novel []int
}

// NewSplit creates a Split with sorted copies of the
// category lists.
// It fails if a category is listed twice.
func NewSplit(base, novel []int) (*Split, error) {
	seen := map[int]string{}
	for _, list := range []struct {
		name string
		ids  []int
	}{{"base", base}, {"novel", novel}} {
		for _, id := range list.ids {
			if prev, ok := seen[id]; ok {
				return nil, errors.Errorf("new split: category %d listed as %s and %s",
					id, prev, list.name)
			}
			seen[id] = list.name
		}
	}
	return &Split{Base: sortedCopy(base), Novel: sortedCopy(novel)}, nil
}

// IsEvalMode reports whether the phase has genuine novel
// categories, i.e. whether it is a validation or test
// phase.
func (s *Split) IsEvalMode() bool {
	return len(s.Novel) > 0
}

// An Index maps each category to the indices of its
// examples in a dataset.
//
// An Index is read-only after construction, so it may be
// shared between sampling workers.
type Index struct {
	byCategory map[int][]int
	categories []int
}

// NewIndex builds an Index from per-example labels.
func NewIndex(labels []int) *Index {
	res := &Index{byCategory: map[int][]int{}}
	for i, label := range labels {
		if _, ok := res.byCategory[label]; !ok {
			res.categories = append(res.categories, label)
		}
		res.byCategory[label] = append(res.byCategory[label], i)
	}
	sort.Ints(res.categories)
	return res
}

// Examples returns the example indices of a category.
// The result must not be modified.
func (i *Index) Examples(category int) []int {
	return i.byCategory[category]
}

// Categories returns the sorted list of categories that
// have at least one example.
func (i *Index) Categories() []int {
	return i.categories
}

func sortedCopy(ids []int) []int {
	res := append([]int{}, ids...)
	sort.Ints(res)
	return res
}
