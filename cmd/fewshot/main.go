// Command fewshot trains and evaluates few-shot
// classification experiments.
//
// Experiments are stored under <root>/experiments. An
// evaluation run is created inside its parent experiment
// and evaluates the parent's best classifier:
//
//	fewshot --config MNIST_FCCosineClassifierGenerator \
//	    --parent_exp MNIST_FCCosineClassifier/MNIST_FCCosineClassifierGenerator \
//	    --evaluate
package main

import (
	"context"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	"github.com/qinzhengmei/MABAS/algorithm"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/dataset"
	"github.com/qinzhengmei/MABAS/episode"
	"github.com/qinzhengmei/MABAS/experiment"
	"github.com/spf13/afero"
	"github.com/unixpickle/rip"
	"go.uber.org/zap"
)

const (
	testEpisodes = 600
	valEpisodes  = 2000

	// datasetCacheSize is the number of decoded subsets kept
	// in memory; one phase needs at most two.
	datasetCacheSize = 4
)

// Args are the command-line flags.
type Args struct {
	Config    string `arg:"required" help:"name of a configuration in the config directory"`
	ConfigDir string `arg:"--config_dir" help:"directory of configuration files"`
	Root      string `help:"directory holding the experiments directory"`
	DataRoot  string `arg:"--data_root" help:"directory of raw dataset features"`

	ParentExp       string `arg:"--parent_exp" help:"parent experiment, possibly a glob"`
	Evaluate        bool   `help:"evaluate the parent's best classifier instead of training"`
	NumWorkers      int    `arg:"--num_workers" help:"number of episode sampling goroutines"`
	Cuda            bool   `help:"accepted for compatibility; computation runs on the CPU"`
	Valset          bool   `help:"evaluate on the validation set instead of the test set"`
	ExpSymlinkGroup string `arg:"--exp_symlink_group" help:"group directory to link the run into"`
	NumEpochs       int    `arg:"--num_epochs" help:"number of evaluation episodes"`

	UsePrecomputedFeatures bool `arg:"--use_precomputed_features" help:"read features computed by the parent's feature extractor"`

	Seed    int64 `help:"random seed (0 for a time-based seed)"`
	Verbose bool  `help:"log debug output to the console"`
}

// Description is shown in the usage message.
func (Args) Description() string {
	return "Train or evaluate a few-shot classification experiment."
}

func main() {
	args := Args{
		ConfigDir:  "config",
		Root:       ".",
		DataRoot:   "data",
		NumWorkers: 4,
	}
	arg.MustParse(&args)

	logger, err := newLogger(args.Verbose)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-rip.NewRIP().Chan()
		logger.Warn("interrupted, stopping after the current step")
		cancel()
	}()

	r := &runner{Args: args, Fs: afero.NewOsFs(), Logger: logger}
	if args.Evaluate {
		err = r.evaluate(ctx)
	} else {
		err = r.train(ctx)
	}
	if err != nil {
		logger.Error("run failed", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

type runner struct {
	Args
	Fs     afero.Fs
	Logger *zap.Logger

	cfg       *config.Config
	id        dataset.ID
	dataOpts  *dataset.Options
	parent    string
	featDir   string
	runDir    string
	algorithm *algorithm.Algorithm
}

// setup loads the configuration and resolves the parent
// experiment.
func (r *runner) setup() error {
	var err error
	path := filepath.Join(r.ConfigDir, r.Config+".yaml")
	if r.cfg, err = config.Load(r.Fs, path); err != nil {
		return err
	}
	if r.id, err = r.cfg.DatasetID(); err != nil {
		return err
	}
	if r.Cuda {
		r.Logger.Warn("cuda requested but not supported; using the CPU")
	}

	featParent := ""
	if r.ParentExp != "" {
		if r.parent, err = experiment.ResolveParent(r.Root, r.ParentExp); err != nil {
			return err
		}
		if featParent, err = experiment.SplitParent(r.parent); err != nil {
			return err
		}
		if r.cfg, err = r.cfg.Rebase(featParent, r.parent); err != nil {
			return err
		}
		r.Logger.Info("parent experiment",
			zap.String("parent", r.parent),
			zap.String("feature_parent", featParent))
	} else if r.Evaluate {
		return errors.New("evaluation requires --parent_exp")
	}

	cache, err := dataset.NewCache(r.Fs, datasetCacheSize)
	if err != nil {
		return err
	}
	r.dataOpts = &dataset.Options{
		Fs:       r.Fs,
		DataRoot: r.DataRoot,
		Cache:    cache,
		Logger:   r.Logger,
	}
	if r.UsePrecomputedFeatures {
		if featParent == "" {
			return errors.New("precomputed features require --parent_exp")
		}
		r.featDir = experiment.FeatureDir(r.Root, featParent, r.id)
		if _, err := dataset.PrecomputedPaths(r.Fs, r.featDir); err != nil {
			return err
		}
		r.dataOpts.FeatureDir = r.featDir
		r.cfg = r.cfg.WithPrecomputedFeatures()
	}
	return nil
}

// prepareRun creates or reuses the run directory and
// records the state of the source tree in it.
func (r *runner) prepareRun(name string, reuse bool) error {
	r.runDir = experiment.Dir(r.Root, filepath.Join(r.parent, name))
	err := experiment.Create(r.Fs, r.runDir)
	if errors.Cause(err) == experiment.ErrExists && reuse {
		r.Logger.Info("reusing experiment directory", zap.String("dir", r.runDir))
	} else if err != nil {
		return err
	} else if r.ExpSymlinkGroup != "" {
		groupDir := experiment.Dir(r.Root, filepath.Join(r.parent, r.ExpSymlinkGroup))
		if err := experiment.LinkGroup(r.Fs, groupDir, r.runDir); err != nil {
			return err
		}
	}

	hash, err := experiment.WriteGitDiff(r.Fs, r.Root, r.runDir)
	if err != nil {
		r.Logger.Warn("source tree not recorded", zap.Error(err))
	} else {
		r.Logger.Info("git commit", zap.String("hash", hash))
	}
	r.cfg = r.cfg.WithExpDir(r.runDir)
	r.Logger.Info("experiment directory", zap.String("dir", r.runDir))
	return nil
}

func (r *runner) newAlgorithm() error {
	opts := algorithm.Options{
		Fs:     r.Fs,
		Root:   r.Root,
		Logger: r.Logger,
	}
	if r.Seed != 0 {
		opts.Rand = rand.New(rand.NewSource(r.Seed))
	}
	var err error
	r.algorithm, err = algorithm.New(r.cfg, opts)
	return err
}

// feed opens the dataset of a phase and creates its loader.
func (r *runner) feed(phase dataset.Phase, opts config.EpisodeOptions,
	seed int64) (*algorithm.Feed, error) {
	ds, err := dataset.DefaultRegistry().Open(r.id, phase, r.dataOpts)
	if err != nil {
		return nil, err
	}
	sampler, err := ds.Sampler()
	if err != nil {
		return nil, err
	}
	loader := &episode.Loader{
		Sampler:    sampler,
		Shape:      opts.Shape(),
		BatchSize:  opts.BatchSize,
		EpochSize:  opts.EpochSize,
		NumWorkers: r.NumWorkers,
		Seed:       seed,
	}
	if err := loader.Validate(); err != nil {
		return nil, errors.Wrapf(err, "%s loader", phase)
	}
	return &algorithm.Feed{Loader: loader, Data: ds}, nil
}

func (r *runner) seed(offset int64) int64 {
	if r.Seed == 0 {
		return 0
	}
	return r.Seed + offset
}
