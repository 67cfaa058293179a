package episode

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"
)

// A Sampler draws episodes for one phase of an
// experiment.
//
// A Sampler is safe for concurrent use as long as every
// goroutine uses its own random source.
type Sampler struct {
	Split *Split
	Index *Index
}

// NewSampler creates a Sampler and checks that every
// category of the split has examples.
func NewSampler(split *Split, index *Index) (*Sampler, error) {
	for _, list := range [][]int{split.Base, split.Novel} {
		for _, cat := range list {
			if len(index.Examples(cat)) == 0 {
				return nil, errors.WithStack(&InfeasibleError{
					Category: cat,
					What:     "examples",
					Need:     1,
				})
			}
		}
	}
	return &Sampler{Split: split, Index: index}, nil
}

// Sample draws one episode.
//
// In evaluation phases the novel categories come from the
// split's novel set.
// In training phases they are drawn from the base set and
// excluded from the episode's base categories.
func (s *Sampler) Sample(rng *rand.Rand, shape Shape) (*Episode, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	knovel, kbase, err := s.sampleCategories(rng, shape)
	if err != nil {
		return nil, err
	}
	ep := &Episode{Knovel: knovel, Kbase: kbase}

	if shape.NKnovel > 0 {
		perCategory := shape.NTestNovel / shape.NKnovel
		for i, cat := range knovel {
			ids, err := s.drawExamples(rng, cat, shape.NExemplars+perCategory)
			if err != nil {
				return nil, err
			}
			label := len(kbase) + i
			for j, id := range ids {
				ex := Example{Index: id, Category: cat, Label: label}
				if j < shape.NExemplars {
					ep.Support = append(ep.Support, ex)
				} else {
					ep.Query = append(ep.Query, ex)
				}
			}
		}
	}

	for i, count := range evenCounts(rng, len(kbase), shape.NTestBase) {
		ids, err := s.drawExamples(rng, kbase[i], count)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			ep.Query = append(ep.Query, Example{Index: id, Category: kbase[i], Label: i})
		}
	}

	rng.Shuffle(len(ep.Query), func(i, j int) {
		ep.Query[i], ep.Query[j] = ep.Query[j], ep.Query[i]
	})
	return ep, nil
}

func (s *Sampler) sampleCategories(rng *rand.Rand, shape Shape) (knovel, kbase []int,
	err error) {
	if s.Split.IsEvalMode() {
		knovel, err = choose(rng, s.Split.Novel, shape.NKnovel, "novel categories")
		if err != nil {
			return nil, nil, err
		}
		kbase, err = choose(rng, s.Split.Base, shape.NKbase, "base categories")
		if err != nil {
			return nil, nil, err
		}
		return knovel, kbase, nil
	}

	all, err := choose(rng, s.Split.Base, shape.NKnovel+shape.NKbase,
		"base categories (including fake novel ones)")
	if err != nil {
		return nil, nil, err
	}
	rng.Shuffle(len(all), func(i, j int) {
		all[i], all[j] = all[j], all[i]
	})
	knovel = sortedCopy(all[:shape.NKnovel])
	kbase = sortedCopy(all[shape.NKnovel:])
	return knovel, kbase, nil
}

func (s *Sampler) drawExamples(rng *rand.Rand, category, count int) ([]int, error) {
	if count == 0 {
		return nil, nil
	}
	pool := s.Index.Examples(category)
	if len(pool) < count {
		return nil, errors.WithStack(&InfeasibleError{
			Category: category,
			Have:     len(pool),
			Need:     count,
			What:     "examples",
		})
	}
	res := make([]int, count)
	for i, j := range rng.Perm(len(pool))[:count] {
		res[i] = pool[j]
	}
	return res, nil
}

// choose picks n sorted ids without replacement.
// Asking for every id returns all of them without
// consuming randomness.
func choose(rng *rand.Rand, ids []int, n int, what string) ([]int, error) {
	if n > len(ids) {
		return nil, errors.WithStack(&InfeasibleError{
			Category: -1,
			Have:     len(ids),
			Need:     n,
			What:     what,
		})
	}
	if n == len(ids) {
		return append([]int{}, ids...), nil
	}
	res := make([]int, n)
	for i, j := range rng.Perm(len(ids))[:n] {
		res[i] = ids[j]
	}
	sort.Ints(res)
	return res, nil
}

// evenCounts spreads total over k buckets so that counts
// differ by at most one, giving the extra units to
// randomly chosen buckets.
func evenCounts(rng *rand.Rand, k, total int) []int {
	if k == 0 {
		return nil
	}
	counts := make([]int, k)
	for i := range counts {
		counts[i] = total / k
	}
	for _, i := range rng.Perm(k)[:total%k] {
		counts[i]++
	}
	return counts
}
