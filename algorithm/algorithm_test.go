package algorithm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/episode"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
	"go.uber.org/zap"
)

// testSource gives example i of category k a noisy
// one-hot feature vector.
type testSource struct {
	dim     int
	vectors [][]float64
	sizes   []int
}

func newTestSource(labels []int, dim int, rng *rand.Rand) *testSource {
	res := &testSource{dim: dim}
	for _, l := range labels {
		v := make([]float64, dim)
		for i := range v {
			v[i] = rng.NormFloat64() * 0.1
		}
		v[l%dim] += 1
		res.vectors = append(res.vectors, v)
	}
	return res
}

func (t *testSource) Pack(c anyvec.Creator, examples []episode.Example) anyvec.Vector {
	t.sizes = append(t.sizes, len(examples))
	var data []float64
	for _, ex := range examples {
		data = append(data, t.vectors[ex.Index]...)
	}
	return c.MakeVectorData(c.MakeNumericList(data))
}

func rangeIDs(start, end int) []int {
	var res []int
	for i := start; i < end; i++ {
		res = append(res, i)
	}
	return res
}

// testFeed creates a feed over numBase+numNovel categories
// with perCategory examples each.
func testFeed(t *testing.T, numBase, numNovel, perCategory, dim int,
	opts config.EpisodeOptions, seed int64) (*Feed, *testSource) {
	var labels []int
	for c := 0; c < numBase+numNovel; c++ {
		for i := 0; i < perCategory; i++ {
			labels = append(labels, c)
		}
	}
	split, err := episode.NewSplit(rangeIDs(0, numBase), rangeIDs(numBase, numBase+numNovel))
	require.NoError(t, err)
	sampler, err := episode.NewSampler(split, episode.NewIndex(labels))
	require.NoError(t, err)
	loader := &episode.Loader{
		Sampler:   sampler,
		Shape:     opts.Shape(),
		BatchSize: opts.BatchSize,
		EpochSize: opts.EpochSize,
		Seed:      seed,
	}
	require.NoError(t, loader.Validate())
	src := newTestSource(labels, dim, rand.New(rand.NewSource(seed)))
	return &Feed{Loader: loader, Data: src}, src
}

const evalConfig = `
dataset: FC100
data_train_opt: {nKnovel: 0, nKbase: 60, nExemplars: 0, nTestNovel: 0, nTestBase: 32,
  batch_size: 8, epoch_size: 8000}
data_test_opt: {nKnovel: 5, nKbase: 60, nExemplars: 1, nTestNovel: 75, nTestBase: 75,
  batch_size: 1, epoch_size: 600}
max_num_epochs: 60
networks:
  feat_model:
    def_file: identity
    pretrained: ./experiments/FC100_Base/feat_model_net_epoch*.best
  classifier:
    def_file: cosine
    opt: {weight_generator_type: none, nKall: 60, nFeat: 20, scale_cls: 10}
    optim_params: {optim_type: sgd, lr: 0.1, momentum: 0.9, weight_decay: 5.0e-4,
      nesterov: true, LUT_lr: [[20, 0.1], [40, 0.006], [50, 0.0012], [60, 0.00024]]}
criterions:
  loss: {ctype: CrossEntropyLoss, opt: null}
algorithm_type: FewShot
`

func testOptions(fs afero.Fs) Options {
	return Options{
		Fs:      fs,
		Root:    "/work",
		Creator: anyvec64.DefaultCreator{},
		Rand:    rand.New(rand.NewSource(1)),
	}
}

func withoutPretrained(cfg *config.Config) *config.Config {
	res := cfg.WithExpDir(cfg.ExpDir)
	for _, net := range res.Networks {
		net.Pretrained = nil
	}
	return res
}

// writeBest saves the networks of an algorithm as the best
// checkpoint of a directory.
func writeBest(t *testing.T, fs afero.Fs, dir string, a *Algorithm, epoch int) {
	snap, err := a.snapshot(epoch, 0.5)
	require.NoError(t, err)
	_, err = checkpoint.NewStore(fs, dir, nil).Save(snap)
	require.NoError(t, err)
}

func TestEvaluateScenario(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := config.Parse("FC100_Eval", []byte(evalConfig))
	require.NoError(t, err)

	_, err = New(cfg.WithExpDir("/work/experiments/FC100_Base"), testOptions(fs))
	require.Error(t, err, "pretrained network should be missing")

	// Pretrained feature extractor of the parent experiment.
	parent, err := New(withoutPretrained(cfg).WithExpDir("/work/experiments/FC100_Base"),
		testOptions(fs))
	require.NoError(t, err)
	writeBest(t, fs, "/work/experiments/FC100_Base", parent, 7)

	expDir := "/work/experiments/FC100_Base/EvalNaive___FC100_Eval"
	a, err := New(cfg.WithExpDir(expDir), testOptions(fs))
	require.NoError(t, err)
	writeBest(t, fs, expDir, parent, 7)
	require.NoError(t, a.LoadCheckpoint(checkpoint.BestFile, false))

	feed, src := testFeed(t, 60, 20, 20, 20, cfg.DataTest, 1)
	report, err := a.Evaluate(context.Background(), feed)
	require.NoError(t, err)
	require.Equal(t, Terminal, a.State())

	require.Equal(t, 600, report.Episodes)
	require.Len(t, src.sizes, 600)
	for _, size := range src.sizes {
		require.Equal(t, 5+150, size)
	}
	for _, name := range []string{AccuracyNovel, AccuracyBase, AccuracyBoth} {
		s := report.Metrics[name]
		require.Equal(t, 600, s.N)
		require.True(t, s.Mean >= 0 && s.Mean <= 1, "%s = %f", name, s.Mean)
		require.True(t, s.CI95 >= 0)
	}
	require.True(t, report.Metrics[AccuracyNovel].Mean > 0.5,
		"novel accuracy %f", report.Metrics[AccuracyNovel].Mean)

	_, err = a.Evaluate(context.Background(), feed)
	require.True(t, errors.Cause(err) == ErrTransition)
}

func TestCheckpointGlobFailsFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := config.Parse("FC100_Eval", []byte(evalConfig))
	require.NoError(t, err)
	a, err := New(withoutPretrained(cfg).WithExpDir("/exp"), testOptions(fs))
	require.NoError(t, err)

	// No best file at all.
	err = a.LoadCheckpoint(checkpoint.BestFile, false)
	var resErr *checkpoint.ResolutionError
	require.True(t, errors.As(err, &resErr), "%v", err)

	// Two best files.
	for _, epoch := range []int{3, 9} {
		name := fmt.Sprintf("/exp/%s%s", checkpoint.NetFile(config.ClassifierRole, epoch),
			checkpoint.BestSuffix)
		require.NoError(t, afero.WriteFile(fs, name, []byte{1}, 0644))
	}
	err = a.LoadCheckpoint(checkpoint.BestFile, false)
	require.True(t, errors.As(err, &resErr), "%v", err)
	require.Len(t, resErr.Matches, 2)
	require.Equal(t, Loaded, a.State())
}

const trainConfig = `
dataset: MNIST
data_train_opt: {nKnovel: 0, nKbase: 4, nExemplars: 0, nTestNovel: 0, nTestBase: 16,
  batch_size: 2, epoch_size: 20}
data_test_opt: {nKnovel: 2, nKbase: 4, nExemplars: 2, nTestNovel: 10, nTestBase: 8,
  batch_size: 1, epoch_size: 10}
max_num_epochs: 2
networks:
  feat_model:
    def_file: fc_stack
    opt: {in_planes: 6, hidden: [8], nFeat: 6, dropout: 0.1, userelu: false}
    optim_params: {optim_type: sgd, lr: 0.1, momentum: 0.9, nesterov: true,
      LUT_lr: [[1, 0.1], [2, 0.05]]}
  classifier:
    def_file: cosine
    opt: {weight_generator_type: none, nKall: 4, nFeat: 6, scale_cls: 10}
    optim_params: {optim_type: sgd, lr: 0.1, momentum: 0.9, LUT_lr: [[1, 0.1], [2, 0.05]]}
criterions:
  loss: {ctype: CrossEntropyLoss}
algorithm_type: FewShot
`

func trainFeeds(t *testing.T, cfg *config.Config) (train, val *Feed) {
	train, _ = testFeed(t, 4, 0, 30, 6, cfg.DataTrain, 2)
	val, _ = testFeed(t, 4, 2, 30, 6, cfg.DataTest, 3)
	return
}

func TestTrainAndResume(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := config.Parse("MNIST_Train", []byte(trainConfig))
	require.NoError(t, err)
	cfg = cfg.WithExpDir("/exp")

	a, err := New(cfg, testOptions(fs))
	require.NoError(t, err)
	train, val := trainFeeds(t, cfg)
	require.NoError(t, a.Train(context.Background(), train, val))
	require.Equal(t, 2, a.CurrentEpoch)
	require.Equal(t, Checkpointed, a.State())
	require.Equal(t, 0.05, a.Optimizer(config.FeatureRole).LR)

	idx, err := a.Store().Index()
	require.NoError(t, err)
	require.Len(t, idx.Records, 2)
	require.True(t, idx.Records[0].Best)
	for _, r := range idx.Records {
		require.False(t, math.IsNaN(r.Metric))
	}

	require.Len(t, fewshot.AllBuffers(a.modules[config.FeatureRole]), 4)

	// Resuming restores the same parameters, statistics and epoch.
	resumed, err := New(cfg, Options{Fs: fs, Creator: anyvec64.DefaultCreator{},
		Rand: rand.New(rand.NewSource(99))})
	require.NoError(t, err)
	require.NoError(t, resumed.LoadCheckpoint(checkpoint.Epoch(2), true))
	require.Equal(t, 2, resumed.CurrentEpoch)
	for _, role := range cfg.Roles() {
		expected := a.modules[role].Parameters()
		actual := resumed.modules[role].Parameters()
		require.Len(t, actual, len(expected))
		for i := range expected {
			require.Equal(t, expected[i].Vector.Data(), actual[i].Vector.Data())
		}
		expectedBufs := fewshot.AllBuffers(a.modules[role])
		actualBufs := fewshot.AllBuffers(resumed.modules[role])
		require.Len(t, actualBufs, len(expectedBufs))
		for i := range expectedBufs {
			require.Equal(t, expectedBufs[i].Data(), actualBufs[i].Data())
		}
	}

	more := *cfg
	more.MaxNumEpochs = 3
	resumed.Config = &more
	require.NoError(t, resumed.Train(context.Background(), train, val))
	require.Equal(t, 3, resumed.CurrentEpoch)
	idx, err = resumed.Store().Index()
	require.NoError(t, err)
	require.Len(t, idx.Records, 3)
}

func TestTrainCancel(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := config.Parse("MNIST_Train", []byte(trainConfig))
	require.NoError(t, err)
	a, err := New(cfg.WithExpDir("/exp"), testOptions(fs))
	require.NoError(t, err)
	train, val := trainFeeds(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = a.Train(ctx, train, val)
	require.True(t, errors.Cause(err) == context.Canceled, "%v", err)
	require.Equal(t, 0, a.CurrentEpoch)
	idx, err := a.Store().Index()
	require.NoError(t, err)
	require.Empty(t, idx.Records)
}

func TestTrainRequiresOptimizer(t *testing.T) {
	cfg, err := config.Parse("FC100_Eval", []byte(evalConfig))
	require.NoError(t, err)
	cfg.Networks[config.ClassifierRole].OptimParams = nil
	cfg.Networks[config.FeatureRole].Pretrained = nil
	a, err := New(cfg.WithExpDir("/exp"), testOptions(afero.NewMemMapFs()))
	require.NoError(t, err)
	require.Error(t, a.Train(context.Background(), nil, nil))
}

func TestPretrainedPrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg, err := config.Parse("MNIST_Train", []byte(trainConfig))
	require.NoError(t, err)
	base, err := New(cfg.WithExpDir("/work/experiments/base"), testOptions(fs))
	require.NoError(t, err)
	writeBest(t, fs, "/work/experiments/base", base, 2)

	stage2 := cfg.WithExpDir("/work/experiments/stage2")
	cls := *stage2.Networks[config.ClassifierRole]
	cls.Opt = config.Options{"weight_generator_type": "feature_averaging_affine",
		"nKall": 4, "nFeat": 6}
	cls.Pretrained = &config.PretrainedRef{Experiment: "base", Role: config.ClassifierRole,
		Epoch: checkpoint.BestFile}
	stage2.Networks[config.ClassifierRole] = &cls

	a, err := New(stage2, testOptions(fs))
	require.NoError(t, err)
	require.Len(t, a.Classifier().Parameters(), 4)
	require.Equal(t, base.Classifier().BaseWeights.Vector.Data(),
		a.Classifier().BaseWeights.Vector.Data())
}

func TestExtractFeatures(t *testing.T) {
	cfg, err := config.Parse("MNIST_Train", []byte(trainConfig))
	require.NoError(t, err)
	a, err := New(cfg, testOptions(afero.NewMemMapFs()))
	require.NoError(t, err)
	c := a.Creator()
	in := c.MakeVectorData(c.MakeNumericList([]float64{
		1, 0, 0, 0, 0, 0,
		0, 1, 0, 0, 0, 0,
		0, 0, 1, 0, 0, 0,
	}))
	out := a.ExtractFeatures(in, 3)
	require.Equal(t, 18, out.Len())

	// Inference features do not depend on the rest of the batch.
	single := a.ExtractFeatures(c.MakeVectorData(c.MakeNumericList([]float64{
		0, 1, 0, 0, 0, 0,
	})), 1)
	require.InDeltaSlice(t, fewshot.Floats(out)[6:12], fewshot.Floats(single), 1e-9)

	ident, err := New(cfg.WithPrecomputedFeatures(), testOptions(afero.NewMemMapFs()))
	require.NoError(t, err)
	require.Equal(t, in.Data(), ident.ExtractFeatures(in, 3).Data())
	_, frozen := ident.Feature().(*fewshot.ParamHider)
	require.True(t, frozen)
}

func TestRestoreNetMismatch(t *testing.T) {
	cfg, err := config.Parse("MNIST_Train", []byte(trainConfig))
	require.NoError(t, err)
	a, err := New(cfg, testOptions(afero.NewMemMapFs()))
	require.NoError(t, err)
	data, err := serializer.SerializeAny(a.modules[config.ClassifierRole])
	require.NoError(t, err)
	require.Error(t, a.restoreNet(config.FeatureRole, data, true))
	require.NoError(t, a.restoreNet(config.ClassifierRole, data, true))
}

func TestEpisodeAccuracy(t *testing.T) {
	ep := &episode.Episode{
		Kbase:  []int{10, 11},
		Knovel: []int{20},
		Query: []episode.Example{
			{Label: 0}, {Label: 1}, {Label: 2}, {Label: 2},
		},
	}
	logits := []float64{
		5, 1, 9, // base query: wrong overall, right among base
		0, 3, 1, // base query: right
		4, 0, 1, // novel query: right among novel, wrong overall
		0, 0, 7, // novel query: right
	}
	acc := episodeAccuracy(ep, logits)
	require.Equal(t, 1.0, acc[AccuracyBase])
	require.Equal(t, 1.0, acc[AccuracyNovel])
	require.Equal(t, 0.5, acc[AccuracyBoth])
}

func TestSummarize(t *testing.T) {
	s := summarize([]float64{0, 1, 0, 1})
	require.Equal(t, 0.5, s.Mean)
	require.InDelta(t, 1.96*0.5/2, s.CI95, 1e-12)
	require.Equal(t, 4, s.N)
	require.Equal(t, Summary{}, summarize(nil))
}

func TestArchitectures(t *testing.T) {
	require.Equal(t, []string{"cosine", "fc_stack", "identity"}, Architectures())
	_, err := Build(&BuildEnv{Creator: anyvec64.DefaultCreator{}}, "feat_model",
		&config.Network{DefFile: "ResNetLike"})
	require.True(t, config.IsError(err))

	env := &BuildEnv{Creator: anyvec64.DefaultCreator{}, Rand: rand.New(rand.NewSource(1))}
	m, err := Build(env, "feat_model", &config.Network{DefFile: "fc_stack",
		Opt: config.Options{"in_planes": 4, "hidden": []interface{}{3}, "nFeat": 2}})
	require.NoError(t, err)
	// FC + BatchNorm for each of two layers.
	require.Len(t, m.Parameters(), 8)
}

func TestStateTransitions(t *testing.T) {
	a := &Algorithm{logger: zap.NewNop()}
	require.Equal(t, Uninitialized, a.State())
	require.True(t, errors.Cause(a.transition(Training)) == ErrTransition)
	for _, s := range []State{Loaded, Training, Checkpointed, Training, Checkpointed,
		Evaluating, Terminal} {
		require.NoError(t, a.transition(s))
	}
	require.True(t, errors.Cause(a.transition(Loaded)) == ErrTransition)
	require.Equal(t, "Terminal", a.State().String())
}
