package main

import (
	"context"
	"path/filepath"

	"github.com/qinzhengmei/MABAS/algorithm"
	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/dataset"
	"github.com/qinzhengmei/MABAS/experiment"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// evaluate runs the parent's best classifier on the test
// or validation episodes.
func (r *runner) evaluate(ctx context.Context) error {
	if err := r.setup(); err != nil {
		return err
	}
	if err := r.prepareRun(experiment.EvalName(r.cfg.Name), false); err != nil {
		return err
	}
	linked, err := experiment.LinkBestCheckpoints(r.Fs, r.runDir)
	if err != nil {
		return err
	}
	r.Logger.Info("linked best checkpoints", zap.Strings("files", linked))

	phase, episodes := dataset.Test, testEpisodes
	if r.Valset {
		phase, episodes = dataset.Val, valEpisodes
	}
	if r.NumEpochs > 0 {
		episodes = r.NumEpochs
	}
	opts := r.cfg.DataTest
	opts.BatchSize = 1
	opts.EpochSize = episodes

	if err := r.newAlgorithm(); err != nil {
		return err
	}
	// Checkpoints are resolved before the data is loaded.
	if err := r.algorithm.LoadCheckpoint(checkpoint.BestFile, false); err != nil {
		return err
	}
	feed, err := r.feed(phase, opts, r.seed(0))
	if err != nil {
		return err
	}
	report, err := r.algorithm.Evaluate(ctx, feed)
	if err != nil {
		return err
	}
	return r.writeReport(phase, report)
}

// evalResult is the saved outcome of an evaluation.
type evalResult struct {
	Phase    string                       `yaml:"phase"`
	Episodes int                          `yaml:"episodes"`
	Metrics  map[string]algorithm.Summary `yaml:"metrics"`
}

func (r *runner) writeReport(phase dataset.Phase, report *algorithm.Report) error {
	data, err := yaml.Marshal(&evalResult{
		Phase:    string(phase),
		Episodes: report.Episodes,
		Metrics:  report.Metrics,
	})
	if err != nil {
		return err
	}
	path := filepath.Join(r.runDir, "eval_"+string(phase)+".yaml")
	r.Logger.Info("saving evaluation results", zap.String("path", path))
	return afero.WriteFile(r.Fs, path, data, 0644)
}
