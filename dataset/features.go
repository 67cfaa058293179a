package dataset

import (
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

// FeatureExt is the extension of feature files.
const FeatureExt = ".features"

// A Subset is a named list of equally sized feature
// vectors with category labels.
type Subset struct {
	Name string

	// Dim is the size of each vector.
	Dim int

	// Data holds the vectors back to back.
	Data   []float32
	Labels []int
}

// Len returns the number of examples.
func (s *Subset) Len() int {
	return len(s.Labels)
}

// Vector returns the i-th feature vector.
// The result must not be modified.
func (s *Subset) Vector(i int) []float32 {
	return s.Data[i*s.Dim : (i+1)*s.Dim]
}

// Categories returns the sorted distinct labels.
func (s *Subset) Categories() []int {
	seen := map[int]bool{}
	var res []int
	for _, l := range s.Labels {
		if !seen[l] {
			seen[l] = true
			res = append(res, l)
		}
	}
	return sortedInts(res)
}

func (s *Subset) validate() error {
	if s.Dim <= 0 && len(s.Labels) > 0 {
		return errors.Errorf("subset %s: invalid dimension %d", s.Name, s.Dim)
	}
	if len(s.Data) != s.Dim*len(s.Labels) {
		return errors.Errorf("subset %s: %d values for %d examples of size %d", s.Name,
			len(s.Data), len(s.Labels), s.Dim)
	}
	return nil
}

// FeaturePath returns the feature file of a subset in a
// directory.
func FeaturePath(dir, subset string) string {
	return filepath.Join(dir, subset+FeatureExt)
}

// WriteSubset encodes a subset into a feature file.
func WriteSubset(fs afero.Fs, path string, s *Subset) error {
	if err := s.validate(); err != nil {
		return err
	}
	labels := make([]float32, len(s.Labels))
	for i, l := range s.Labels {
		labels[i] = float32(l)
	}
	data, err := serializer.SerializeAny(
		serializer.Bytes(s.Name),
		serializer.Int(s.Dim),
		&anyvecsave.S{Vector: anyvec32.MakeVectorData(s.Data)},
		&anyvecsave.S{Vector: anyvec32.MakeVectorData(labels)},
	)
	if err != nil {
		return errors.Wrapf(err, "encode subset %s", s.Name)
	}
	if err := afero.WriteFile(fs, path, snappy.Encode(nil, data), 0644); err != nil {
		return errors.Wrapf(err, "write subset %s", s.Name)
	}
	return nil
}

// ReadSubset decodes a feature file.
func ReadSubset(fs afero.Fs, path string) (*Subset, error) {
	compressed, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "read subset")
	}
	data, err := snappy.Decode(nil, compressed)
	if err != nil {
		return nil, errors.Wrapf(err, "decompress subset %s", path)
	}
	var name serializer.Bytes
	var dim serializer.Int
	var vecs, labels *anyvecsave.S
	if err := serializer.DeserializeAny(data, &name, &dim, &vecs, &labels); err != nil {
		return nil, errors.Wrapf(err, "decode subset %s", path)
	}
	vecData, ok1 := vecs.Vector.Data().([]float32)
	labelData, ok2 := labels.Vector.Data().([]float32)
	if !ok1 || !ok2 {
		return nil, errors.Errorf("decode subset %s: expected float32 vectors", path)
	}
	res := &Subset{
		Name:   string(name),
		Dim:    int(dim),
		Data:   vecData,
		Labels: make([]int, len(labelData)),
	}
	for i, l := range labelData {
		res.Labels[i] = int(l)
	}
	if err := res.validate(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return res, nil
}

// A Cache keeps recently decoded subsets in memory, so
// that phases sharing a subset decode it once.
type Cache struct {
	fs    afero.Fs
	cache *lru.Cache
}

// NewCache creates a cache holding up to size subsets.
func NewCache(fs afero.Fs, size int) (*Cache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "new subset cache")
	}
	return &Cache{fs: fs, cache: c}, nil
}

// Load reads a feature file, or returns the cached
// subset.
// Cached subsets are shared and must not be modified.
func (c *Cache) Load(path string) (*Subset, error) {
	if s, ok := c.cache.Get(path); ok {
		return s.(*Subset), nil
	}
	s, err := ReadSubset(c.fs, path)
	if err != nil {
		return nil, err
	}
	c.cache.Add(path, s)
	return s, nil
}
