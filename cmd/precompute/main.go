// Command precompute runs the feature extractor of a
// trained experiment over every subset of its dataset and
// saves the features, so that later experiments can train
// and evaluate classifiers without the extractor.
package main

import (
	"os"
	"path/filepath"

	"github.com/alexflint/go-arg"
	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/qinzhengmei/MABAS/algorithm"
	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/dataset"
	"github.com/qinzhengmei/MABAS/experiment"
	"github.com/sbwhitecap/tqdm"
	"github.com/sbwhitecap/tqdm/iterators"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func main() {
	args := struct {
		Config    string   `arg:"required" help:"configuration the experiment was trained with"`
		Exp       string   `help:"experiment holding the feature extractor (default: the config name)"`
		Epoch     string   `help:"checkpoint to use: an epoch number, latest or *"`
		ConfigDir string   `arg:"--config_dir"`
		Root      string
		DataRoot  string   `arg:"--data_root"`
		BatchSize int      `arg:"--batch_size"`
		Phases    []string `help:"phases whose subsets are extracted (default: all)"`
		Verbose   bool
	}{
		Epoch:     "*",
		ConfigDir: "config",
		Root:      ".",
		DataRoot:  "data",
		BatchSize: 256,
	}
	arg.MustParse(&args)

	logger := zap.NewNop()
	if args.Verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	if args.Exp == "" {
		args.Exp = args.Config
	}
	subsets, err := phaseSubsets(args.Phases)
	if err == nil {
		err = precompute(afero.NewOsFs(), logger, args.Root, args.Exp, args.Epoch,
			filepath.Join(args.ConfigDir, args.Config+".yaml"), args.DataRoot,
			args.BatchSize, subsets)
	}
	if err != nil {
		logger.Error("precompute failed", zap.Error(err))
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// phaseSubsets lists the subsets of the named phases, or
// every subset if names is empty.
func phaseSubsets(names []string) ([]string, error) {
	if len(names) == 0 {
		return dataset.SubsetNames, nil
	}
	seen := map[string]bool{}
	var res []string
	for _, name := range names {
		phase, err := dataset.ParsePhase(name)
		if err != nil {
			return nil, err
		}
		for _, sub := range phase.Subsets() {
			if !seen[sub] {
				seen[sub] = true
				res = append(res, sub)
			}
		}
	}
	return res, nil
}

func precompute(fs afero.Fs, logger *zap.Logger, root, exp, epoch, configPath, dataRoot string,
	batchSize int, subsets []string) error {
	if batchSize <= 0 {
		return errors.Errorf("invalid batch size %d", batchSize)
	}
	sel, err := checkpoint.ParseSelector(epoch)
	if err != nil {
		return err
	}
	cfg, err := config.Load(fs, configPath)
	if err != nil {
		return err
	}
	id, err := cfg.DatasetID()
	if err != nil {
		return err
	}
	a, err := algorithm.New(cfg.WithExpDir(experiment.Dir(root, exp)),
		algorithm.Options{Fs: fs, Root: root, Logger: logger})
	if err != nil {
		return err
	}
	if err := a.LoadCheckpoint(sel, false); err != nil {
		return err
	}

	src, err := dataset.DefaultRegistry().Source(id, &dataset.Options{
		Fs:       fs,
		DataRoot: dataRoot,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	outDir := experiment.FeatureDir(root, exp, id)
	if err := fs.MkdirAll(outDir, 0755); err != nil {
		return err
	}
	for _, name := range subsets {
		sub, err := src.Subset(name)
		if err != nil {
			return err
		}
		if sub.Len() == 0 {
			logger.Warn("skipping empty subset", zap.String("subset", name))
			continue
		}
		features, err := extract(a, sub, batchSize)
		if err != nil {
			return errors.Wrapf(err, "extract %s", name)
		}
		path := dataset.FeaturePath(outDir, name)
		if err := dataset.WriteSubset(fs, path, features); err != nil {
			return err
		}
		logger.Info("saved features",
			zap.String("path", path),
			zap.Int("examples", features.Len()),
			zap.Int("dim", features.Dim))
	}
	return nil
}

func extract(a *algorithm.Algorithm, sub *dataset.Subset,
	batchSize int) (*dataset.Subset, error) {
	res := &dataset.Subset{Name: sub.Name, Labels: sub.Labels}
	c := a.Creator()
	numBatches := (sub.Len() + batchSize - 1) / batchSize
	err := tqdm.With(iterators.Interval(0, numBatches), sub.Name, func(v interface{}) (brk bool) {
		start := v.(int) * batchSize
		end := start + batchSize
		if end > sub.Len() {
			end = sub.Len()
		}
		in := make([]float64, 0, (end-start)*sub.Dim)
		for i := start; i < end; i++ {
			for _, x := range sub.Vector(i) {
				in = append(in, float64(x))
			}
		}
		out := fewshot.Floats(a.ExtractFeatures(c.MakeVectorData(c.MakeNumericList(in)),
			end-start))
		res.Dim = len(out) / (end - start)
		for _, x := range out {
			res.Data = append(res.Data, float32(x))
		}
		return false
	})
	return res, err
}
