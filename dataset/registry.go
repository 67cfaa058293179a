package dataset

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// A Source provides the subsets of a dataset by name.
type Source interface {
	Subset(name string) (*Subset, error)
}

// Options configures how a dataset is opened.
type Options struct {
	Fs afero.Fs

	// DataRoot holds one directory of raw feature files per
	// dataset, named after the dataset's ID.
	DataRoot string

	// FeatureDir, if set, is a directory of precomputed
	// feature files that replaces the raw data.
	FeatureDir string

	// Cache is shared by all opened datasets.
	// If nil, subsets are decoded on every access.
	Cache *Cache

	Logger *zap.Logger
}

// An Entry describes how to obtain a dataset's raw data.
type Entry struct {
	ID  ID
	Raw func(opts *Options) (Source, error)
}

// A Registry maps dataset IDs to entries.
type Registry map[ID]*Entry

var (
	defaultRegistry     Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the registry of every built-in
// dataset.
func DefaultRegistry() Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = Registry{}
		for _, id := range []ID{MiniImageNet, FC100, CIFARFS} {
			id := id
			defaultRegistry[id] = &Entry{
				ID: id,
				Raw: func(opts *Options) (Source, error) {
					return newDirSource(opts, filepath.Join(opts.DataRoot, id.String())), nil
				},
			}
		}
		defaultRegistry[MNIST] = &Entry{ID: MNIST, Raw: mnistSource}
	})
	return defaultRegistry
}

// Source returns the subsets of a dataset, preferring
// precomputed features when opts.FeatureDir is set.
func (r Registry) Source(id ID, opts *Options) (Source, error) {
	entry, ok := r[id]
	if !ok {
		return nil, errors.Errorf("dataset %s is not registered", id)
	}
	if opts.FeatureDir != "" {
		if _, err := PrecomputedPaths(opts.Fs, opts.FeatureDir); err != nil {
			return nil, err
		}
		return newDirSource(opts, opts.FeatureDir), nil
	}
	return entry.Raw(opts)
}

// Open loads the dataset of a phase.
func (r Registry) Open(id ID, phase Phase, opts *Options) (*Dataset, error) {
	src, err := r.Source(id, opts)
	if err != nil {
		return nil, err
	}
	baseName, novelName := phaseSubsets(phase)
	base, err := src.Subset(baseName)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s/%s", id, phase)
	}
	var novel *Subset
	if novelName != "" {
		novel, err = src.Subset(novelName)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s/%s", id, phase)
		}
	}
	res, err := newDataset(id.String(), phase, base, novel)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("opened dataset",
		zap.Stringer("dataset", id),
		zap.String("phase", string(phase)),
		zap.Int("examples", res.Len()),
		zap.Int("base_categories", len(res.Split.Base)),
		zap.Int("novel_categories", len(res.Split.Novel)))
	return res, nil
}

// PrecomputedPaths returns the feature file of every
// subset in a directory, failing if any is missing.
func PrecomputedPaths(fs afero.Fs, dir string) (map[string]string, error) {
	res := map[string]string{}
	for _, name := range SubsetNames {
		path := FeaturePath(dir, name)
		if _, err := fs.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, errors.Errorf("missing precomputed features: %s", path)
			}
			return nil, errors.Wrap(err, "check precomputed features")
		}
		res[name] = path
	}
	return res, nil
}

type dirSource struct {
	fs    afero.Fs
	cache *Cache
	dir   string
}

func newDirSource(opts *Options, dir string) *dirSource {
	return &dirSource{fs: opts.Fs, cache: opts.Cache, dir: dir}
}

func (d *dirSource) Subset(name string) (*Subset, error) {
	path := FeaturePath(d.dir, name)
	if d.cache != nil {
		return d.cache.Load(path)
	}
	return ReadSubset(d.fs, path)
}
