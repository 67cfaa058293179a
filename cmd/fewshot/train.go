package main

import (
	"context"

	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/dataset"
	"go.uber.org/zap"
)

// train runs or resumes the training of an experiment.
//
// Without a parent, the experiment is created at the top
// of the experiments directory; otherwise it is nested in
// its parent.
func (r *runner) train(ctx context.Context) error {
	if err := r.setup(); err != nil {
		return err
	}
	if err := r.prepareRun(r.cfg.Name, true); err != nil {
		return err
	}
	if err := r.newAlgorithm(); err != nil {
		return err
	}

	idx, err := r.algorithm.Store().Index()
	if err != nil {
		return err
	}
	if latest := idx.Latest(); latest != nil {
		if err := r.algorithm.LoadCheckpoint(checkpoint.Latest, true); err != nil {
			return err
		}
		r.Logger.Info("resuming training", zap.Int("epoch", r.algorithm.CurrentEpoch))
	}

	trainFeed, err := r.feed(dataset.Train, r.cfg.DataTrain, r.seed(0))
	if err != nil {
		return err
	}
	valOpts := r.cfg.DataTest
	if r.NumEpochs > 0 {
		valOpts.EpochSize = r.NumEpochs
	}
	valFeed, err := r.feed(dataset.Val, valOpts, r.seed(1))
	if err != nil {
		return err
	}
	return r.algorithm.Train(ctx, trainFeed, valFeed)
}
