package checkpoint

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// IndexFile is the name of a store's index inside its
// directory.
const IndexFile = "checkpoints.yaml"

// A Record describes one saved epoch.
type Record struct {
	Epoch int `yaml:"epoch"`

	// Metric is the validation metric of the epoch.
	Metric float64 `yaml:"metric"`

	// Best is set if the epoch was the best one at the time
	// it was saved.
	Best bool `yaml:"best"`

	Roles []string `yaml:"roles"`
}

// An Index lists the checkpoints of a store.
type Index struct {
	Records    []Record `yaml:"records"`
	BestEpoch  int      `yaml:"best_epoch"`
	BestMetric float64  `yaml:"best_metric"`
}

// Latest returns the most recent record, or nil.
func (i *Index) Latest() *Record {
	if len(i.Records) == 0 {
		return nil
	}
	return &i.Records[len(i.Records)-1]
}

// Find returns the record of an epoch, or nil.
func (i *Index) Find(epoch int) *Record {
	for j := range i.Records {
		if i.Records[j].Epoch == epoch {
			return &i.Records[j]
		}
	}
	return nil
}

// IsBetter reports whether a metric would make a new best
// epoch.
// Only a strict improvement counts.
func (i *Index) IsBetter(metric float64) bool {
	return i.BestEpoch == 0 || metric > i.BestMetric
}

// truncate drops the records of an epoch and every later
// epoch, as happens when a run is resumed from an earlier
// checkpoint.
func (i *Index) truncate(epoch int) {
	var kept []Record
	i.BestEpoch, i.BestMetric = 0, 0
	for _, r := range i.Records {
		if r.Epoch >= epoch {
			continue
		}
		kept = append(kept, r)
		if r.Best {
			i.BestEpoch, i.BestMetric = r.Epoch, r.Metric
		}
	}
	i.Records = kept
}

func (i *Index) add(r Record) {
	i.truncate(r.Epoch)
	i.Records = append(i.Records, r)
	if r.Best {
		i.BestEpoch, i.BestMetric = r.Epoch, r.Metric
	}
}

func readIndex(fs afero.Fs, dir string) (*Index, error) {
	data, err := afero.ReadFile(fs, filepath.Join(dir, IndexFile))
	if os.IsNotExist(err) {
		return &Index{}, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "read checkpoint index")
	}
	var res Index
	if err := yaml.Unmarshal(data, &res); err != nil {
		return nil, errors.Wrapf(err, "parse checkpoint index in %s", dir)
	}
	return &res, nil
}

func writeIndex(fs afero.Fs, dir string, idx *Index) error {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return errors.Wrap(err, "encode checkpoint index")
	}
	return writeAtomic(fs, filepath.Join(dir, IndexFile), data)
}

// writeAtomic replaces a file so that readers see either
// the old or the new contents.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	f, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	tmpName := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		fs.Remove(tmpName)
		return errors.Wrapf(err, "sync %s", path)
	}
	if err := f.Close(); err != nil {
		fs.Remove(tmpName)
		return errors.Wrapf(err, "close %s", path)
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return errors.Wrapf(err, "rename %s", path)
	}
	return nil
}
