// Package experiment manages the directories of training
// and evaluation runs.
//
// Every run lives under <root>/experiments. Evaluation
// runs are nested inside the experiment whose classifier
// they evaluate.
package experiment

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/dataset"
	"github.com/spf13/afero"
)

const (
	// EvalPrefix starts the name of an evaluation run.
	EvalPrefix = "EvalNaive___"

	// FeaturesDir holds the precomputed features of an
	// experiment, one subdirectory per dataset.
	FeaturesDir = "features"
)

// ErrExists is the cause of errors from Create when the
// run directory is already present.
var ErrExists = errors.New("experiment directory already exists")

// Dir returns the directory of an experiment, given as a
// path relative to the experiments directory.
func Dir(root, exp string) string {
	return filepath.Join(root, config.ExperimentsDir, exp)
}

// EvalName returns the run name for evaluating a config.
func EvalName(configName string) string {
	return EvalPrefix + configName
}

// FeatureDir returns where an experiment's precomputed
// features for a dataset are stored.
func FeatureDir(root, exp string, id dataset.ID) string {
	return filepath.Join(Dir(root, exp), FeaturesDir, id.String())
}

// A ParentError reports a parent pattern that does not
// name exactly one experiment.
type ParentError struct {
	Pattern string
	Matches []string
}

func (p *ParentError) Error() string {
	if len(p.Matches) == 0 {
		return "parent experiment " + p.Pattern + ": no match"
	}
	return "parent experiment " + p.Pattern + ": ambiguous match (" +
		strings.Join(p.Matches, ", ") + ")"
}

// ResolveParent finds a parent experiment.
//
// The pattern is relative to the experiments directory and
// is either an existing directory or a glob (with ** for
// any depth) matching exactly one directory.
// The result is relative to the experiments directory.
func ResolveParent(root, pattern string) (string, error) {
	base := filepath.Join(root, config.ExperimentsDir)
	if info, err := os.Stat(filepath.Join(base, pattern)); err == nil && info.IsDir() {
		return filepath.Clean(pattern), nil
	}
	matches, err := zglob.Glob(filepath.Join(base, pattern))
	if err != nil && !os.IsNotExist(err) {
		return "", errors.Wrap(err, "resolve parent experiment")
	}
	var dirs []string
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.IsDir() {
			rel, err := filepath.Rel(base, m)
			if err != nil {
				return "", errors.Wrap(err, "resolve parent experiment")
			}
			dirs = append(dirs, rel)
		}
	}
	if len(dirs) != 1 {
		return "", errors.WithStack(&ParentError{Pattern: pattern, Matches: dirs})
	}
	return dirs[0], nil
}

// SplitParent returns the experiment that trained the
// feature extractor of a parent experiment.
//
// A parent is either a base experiment or a second stage
// nested inside one, as in "FC100_Base/FC100_Gen".
func SplitParent(parent string) (featParent string, err error) {
	parts := strings.Split(filepath.ToSlash(filepath.Clean(parent)), "/")
	if len(parts) > 2 || parts[0] == "" || parts[0] == "." || parts[0] == ".." {
		return "", errors.Errorf("invalid parent experiment %q", parent)
	}
	return parts[0], nil
}

// Create makes a new run directory, creating its parents
// as needed.
// The final directory is made with a single Mkdir, so two
// runs cannot both claim it.
func Create(fs afero.Fs, dir string) error {
	if err := fs.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return errors.Wrap(err, "create experiment")
	}
	if err := fs.Mkdir(dir, 0755); os.IsExist(err) {
		return errors.Wrap(ErrExists, dir)
	} else if err != nil {
		return errors.Wrap(err, "create experiment")
	}
	return nil
}
