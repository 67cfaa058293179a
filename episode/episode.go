package episode

import "github.com/pkg/errors"

// Shape holds the per-episode size parameters.
type Shape struct {
	// NKnovel is the number of novel categories.
	NKnovel int
	// NKbase is the number of base categories.
	NKbase int
	// NExemplars is the number of support examples per
	// novel category.
	NExemplars int
	// NTestNovel is the total number of novel queries,
	// split evenly across the novel categories.
	NTestNovel int
	// NTestBase is the total number of base queries,
	// spread evenly across the base categories.
	NTestBase int
}

// Validate checks the internal consistency of a shape.
func (s Shape) Validate() error {
	if s.NKnovel < 0 || s.NKbase < 0 || s.NExemplars < 0 || s.NTestNovel < 0 ||
		s.NTestBase < 0 {
		return errors.Errorf("invalid episode shape %+v: negative count", s)
	}
	if s.NKnovel == 0 && (s.NExemplars != 0 || s.NTestNovel != 0) {
		return errors.Errorf("invalid episode shape %+v: novel examples without novel categories", s)
	}
	if s.NKnovel > 0 && s.NTestNovel%s.NKnovel != 0 {
		return errors.Errorf("invalid episode shape %+v: nTestNovel must be a multiple of nKnovel", s)
	}
	if s.NTestBase > 0 && s.NKbase == 0 {
		return errors.Errorf("invalid episode shape %+v: base queries without base categories", s)
	}
	return nil
}

// An Example is one sampled dataset example.
type Example struct {
	// Index is the position of the example in the
	// dataset.
	Index int

	// Category is the dataset category id.
	Category int

	// Label is the episode-local class: the position in
	// Kbase for base examples, and len(Kbase) plus the
	// position in Knovel for novel examples.
	Label int
}

// An Episode is one sampled few-shot task.
type Episode struct {
	// Knovel and Kbase are the sorted category ids of the
	// episode.
	Knovel []int
	Kbase  []int

	// Support holds the exemplars of the novel categories,
	// grouped by category in Knovel order.
	Support []Example

	// Query holds the shuffled test examples.
	Query []Example
}

// NumClasses returns the number of classes an episode's
// queries are classified into.
func (e *Episode) NumClasses() int {
	return len(e.Kbase) + len(e.Knovel)
}

// IsNovel reports whether an example belongs to a novel
// category of the episode.
func (e *Episode) IsNovel(ex Example) bool {
	return ex.Label >= len(e.Kbase)
}

// A Batch is a list of episodes with the same shape,
// processed together in one step.
type Batch []*Episode

// NumEpisodes returns len(b).
func (b Batch) NumEpisodes() int {
	return len(b)
}
