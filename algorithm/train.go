package algorithm

import (
	"context"

	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/qinzhengmei/MABAS/classifier"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/episode"
	"github.com/unixpickle/anydiff"
	"go.uber.org/zap"
)

// Metric names.
const (
	AccuracyNovel = "AccuracyNovel"
	AccuracyBase  = "AccuracyBase"
	AccuracyBoth  = "AccuracyBoth"
	Loss          = "Loss"
)

// Train runs the remaining epochs, from CurrentEpoch up to
// the configured maximum.
//
// Every epoch ends with a validation pass and a checkpoint,
// marked best if its validation metric is a strict
// improvement.
// Cancelling ctx stops training between steps; the last
// saved checkpoint stays loadable.
func (a *Algorithm) Train(ctx context.Context, train, val *Feed) error {
	if len(a.optims) == 0 {
		return errors.New("train: no network has an optimizer")
	}
	if a.store == nil {
		return errors.New("train: no experiment directory")
	}
	valMetric := AccuracyBase
	if val.Loader.Shape.NKnovel > 0 {
		valMetric = AccuracyNovel
	}
	if a.CurrentEpoch >= a.Config.MaxNumEpochs {
		a.logger.Info("training already finished", zap.Int("epochs", a.CurrentEpoch))
	}

	for epoch := a.CurrentEpoch; epoch < a.Config.MaxNumEpochs; epoch++ {
		if err := a.transition(Training); err != nil {
			return err
		}
		for _, role := range a.Config.Roles() {
			if opt := a.optims[role]; opt != nil {
				a.logger.Info("learning rate", zap.Int("epoch", epoch+1),
					zap.String("role", role), zap.Float64("lr", opt.SetEpoch(epoch+1)))
			}
		}

		trainReport, err := a.runEpoch(ctx, train, true)
		if err != nil {
			return a.abort(errors.Wrapf(err, "train epoch %d", epoch+1))
		}
		valReport, err := a.runEpoch(ctx, val, false)
		if err != nil {
			return a.abort(errors.Wrapf(err, "validate epoch %d", epoch+1))
		}

		metric := valReport.Metrics[valMetric].Mean
		snap, err := a.snapshot(epoch+1, metric)
		if err != nil {
			return a.abort(err)
		}
		best, err := a.store.Save(snap)
		if err != nil {
			return a.abort(err)
		}
		a.CurrentEpoch = epoch + 1
		if err := a.transition(Checkpointed); err != nil {
			return err
		}

		a.logger.Info("finished epoch",
			zap.Int("epoch", a.CurrentEpoch),
			zap.Object("train", trainReport),
			zap.Object("val", valReport),
			zap.Bool("best", best))
	}
	return nil
}

// Evaluate runs one pass over a feed without updating any
// parameter and reports the mean of every metric over the
// episodes with a 95% confidence interval.
func (a *Algorithm) Evaluate(ctx context.Context, feed *Feed) (*Report, error) {
	if err := a.transition(Evaluating); err != nil {
		return nil, err
	}
	report, err := a.runEpoch(ctx, feed, false)
	if err != nil {
		return nil, a.abort(errors.Wrap(err, "evaluate"))
	}
	for _, name := range report.Names() {
		s := report.Metrics[name]
		a.logger.Info("evaluation result",
			zap.String("metric", name),
			zap.Float64("mean", s.Mean),
			zap.Float64("ci95", s.CI95),
			zap.Int("episodes", s.N))
	}
	if err := a.transition(Terminal); err != nil {
		return nil, err
	}
	return report, nil
}

func (a *Algorithm) abort(err error) error {
	a.state = Terminal
	return err
}

func (a *Algorithm) runEpoch(ctx context.Context, feed *Feed, training bool) (*Report, error) {
	fewshot.SetTraining(a.feature, training && a.optims[config.FeatureRole] != nil)
	defer fewshot.SetTraining(a.feature, false)

	it := feed.Loader.Iterate(ctx)
	defer it.Close()

	acc := newAccumulator()
	step := 0
	for {
		batch, ok := it.Next()
		if !ok {
			break
		}
		metrics, err := a.step(batch, feed.Data, training)
		if err != nil {
			return nil, err
		}
		for _, m := range metrics {
			acc.add(m)
		}
		step++
		if training && step%a.logInterval == 0 {
			a.logger.Debug("training step",
				zap.Int("epoch", a.CurrentEpoch+1),
				zap.Int("step", step),
				zap.Int("steps", feed.Loader.NumBatches()),
				zap.Object("running", acc.report()))
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return acc.report(), nil
}

// step runs one batch and returns per-episode metrics.
// In training mode it also updates the parameters.
func (a *Algorithm) step(batch episode.Batch, data ExampleSource,
	training bool) ([]map[string]float64, error) {
	var examples []episode.Example
	numQuery := 0
	for _, ep := range batch {
		examples = append(examples, ep.Support...)
		examples = append(examples, ep.Query...)
		numQuery += len(ep.Query)
	}
	if numQuery == 0 {
		return nil, errors.New("step: batch has no queries")
	}

	in := anydiff.NewConst(data.Pack(a.creator, examples))
	feats := a.feature.Apply(in, len(examples))

	var logits []anydiff.Res
	var stepErr error
	total := anydiff.Pool(feats, func(feats anydiff.Res) anydiff.Res {
		var costs []anydiff.Res
		logits, costs, stepErr = a.episodeLogits(batch, feats, len(examples), training)
		if stepErr != nil {
			return anydiff.NewConst(a.creator.MakeVector(1))
		}
		sum := anydiff.Sum(anydiff.Concat(costs...))
		return anydiff.Scale(sum, a.creator.MakeNumeric(1/float64(numQuery)))
	})
	if stepErr != nil {
		return nil, stepErr
	}

	if training {
		params := fewshot.AllParameters(a.feature)
		if a.optims[config.ClassifierRole] != nil {
			params = append(params, a.classifier.Parameters()...)
		}
		grad := anydiff.NewGrad(params...)
		upstream := a.creator.MakeVector(1)
		upstream.AddScalar(a.creator.MakeNumeric(1))
		total.Propagate(upstream, grad)
		for _, o := range a.optims {
			o.Step(grad)
		}
	}

	loss := fewshot.Floats(total.Output())[0]
	res := make([]map[string]float64, len(batch))
	for i, ep := range batch {
		res[i] = episodeAccuracy(ep, fewshot.Floats(logits[i].Output()))
		res[i][Loss] = loss
	}
	return res, nil
}

// episodeLogits splits a batch's features into episodes
// and computes each episode's logits and per-query costs.
func (a *Algorithm) episodeLogits(batch episode.Batch, feats anydiff.Res, numExamples int,
	training bool) (logits, costs []anydiff.Res, err error) {
	nf := feats.Output().Len() / numExamples
	offset := 0
	slice := func(n int) anydiff.Res {
		res := anydiff.Slice(feats, offset*nf, (offset+n)*nf)
		offset += n
		return res
	}
	for _, ep := range batch {
		in := &classifier.Input{
			Kbase:    ep.Kbase,
			NumNovel: len(ep.Knovel),
			NumQuery: len(ep.Query),
		}
		if len(ep.Support) > 0 {
			in.NumExemplars = len(ep.Support) / len(ep.Knovel)
			in.Support = slice(len(ep.Support))
		}
		in.Query = slice(len(ep.Query))

		l, err := a.classifier.Logits(in, training)
		if err != nil {
			return nil, nil, err
		}
		logits = append(logits, l)

		numClasses := ep.NumClasses()
		desired := make([]float64, len(ep.Query)*numClasses)
		for i, ex := range ep.Query {
			desired[i*numClasses+ex.Label] = 1
		}
		desiredRes := anydiff.NewConst(a.creator.MakeVectorData(
			a.creator.MakeNumericList(desired)))
		costs = append(costs, a.criterion.Cost(desiredRes, l, len(ep.Query)))
	}
	return logits, costs, nil
}

// episodeAccuracy computes the accuracy of novel queries
// among novel classes, of base queries among base classes,
// and of all queries among all classes.
func episodeAccuracy(ep *episode.Episode, logits []float64) map[string]float64 {
	numBase := len(ep.Kbase)
	numClasses := ep.NumClasses()
	var novelRight, novelTotal, baseRight, baseTotal, bothRight int
	for i, ex := range ep.Query {
		row := logits[i*numClasses : (i+1)*numClasses]
		if argmax(row) == ex.Label {
			bothRight++
		}
		if ep.IsNovel(ex) {
			novelTotal++
			if argmax(row[numBase:])+numBase == ex.Label {
				novelRight++
			}
		} else {
			baseTotal++
			if argmax(row[:numBase]) == ex.Label {
				baseRight++
			}
		}
	}
	res := map[string]float64{
		AccuracyBoth: float64(bothRight) / float64(len(ep.Query)),
	}
	if novelTotal > 0 {
		res[AccuracyNovel] = float64(novelRight) / float64(novelTotal)
	}
	if baseTotal > 0 {
		res[AccuracyBase] = float64(baseRight) / float64(baseTotal)
	}
	return res
}

func argmax(vals []float64) int {
	best := 0
	for i, x := range vals {
		if x > vals[best] {
			best = i
		}
	}
	return best
}

type accumulator struct {
	values map[string][]float64
}

func newAccumulator() *accumulator {
	return &accumulator{values: map[string][]float64{}}
}

func (a *accumulator) add(metrics map[string]float64) {
	for name, x := range metrics {
		a.values[name] = append(a.values[name], x)
	}
}

func (a *accumulator) report() *Report {
	res := &Report{Metrics: map[string]Summary{}}
	for name, vals := range a.values {
		res.Metrics[name] = summarize(vals)
		if len(vals) > res.Episodes {
			res.Episodes = len(vals)
		}
	}
	return res
}
