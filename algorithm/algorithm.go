// Package algorithm trains and evaluates few-shot models.
//
// An Algorithm owns a feature extractor, a cosine
// classifier, their optimizers and the checkpoint store of
// one experiment, and drives the epoch loop.
package algorithm

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/qinzhengmei/MABAS/checkpoint"
	"github.com/qinzhengmei/MABAS/classifier"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/qinzhengmei/MABAS/episode"
	"github.com/qinzhengmei/MABAS/optim"
	"github.com/spf13/afero"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
	"go.uber.org/zap"
)

// Options configures a new Algorithm.
type Options struct {
	// Fs defaults to the OS filesystem.
	Fs afero.Fs

	// Root is the directory holding config.ExperimentsDir,
	// against which pretrained references are resolved.
	Root string

	// Creator defaults to float32 vectors.
	Creator anyvec.Creator

	// Rand initializes networks.
	// If nil, a time-seeded source is used.
	Rand *rand.Rand

	Logger *zap.Logger

	// LogInterval is the number of training steps between
	// progress logs.
	// If it is 0, a default is used.
	LogInterval int
}

const defaultLogInterval = 100

// An ExampleSource turns sampled examples into packed
// input vectors.
type ExampleSource interface {
	Pack(c anyvec.Creator, examples []episode.Example) anyvec.Vector
}

// A Feed pairs an episode loader with the data it samples
// from.
type Feed struct {
	Loader *episode.Loader
	Data   ExampleSource
}

// An Algorithm is the training and evaluation
// orchestrator of one experiment.
//
// It is not safe for concurrent use; all parameter
// updates happen on the calling goroutine.
type Algorithm struct {
	Config *config.Config

	// CurrentEpoch is the number of completed epochs.
	CurrentEpoch int

	fs          afero.Fs
	root        string
	creator     anyvec.Creator
	logger      *zap.Logger
	logInterval int

	modules    map[string]Module
	feature    fewshot.Layer
	classifier *classifier.Cosine
	criterion  fewshot.Cost
	optims     map[string]*optim.Optimizer
	store      *checkpoint.Store

	state State
}

// New builds the networks of a configuration, loads any
// pretrained networks and creates the optimizers.
//
// The checkpoint store lives in cfg.ExpDir; without an
// experiment directory the Algorithm can only evaluate.
func New(cfg *config.Config, opts Options) (*Algorithm, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Creator == nil {
		opts.Creator = anyvec32.DefaultCreator{}
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.LogInterval == 0 {
		opts.LogInterval = defaultLogInterval
	}
	a := &Algorithm{
		Config:      cfg,
		fs:          opts.Fs,
		root:        opts.Root,
		creator:     opts.Creator,
		logger:      opts.Logger,
		logInterval: opts.LogInterval,
		modules:     map[string]Module{},
		optims:      map[string]*optim.Optimizer{},
		state:       Uninitialized,
	}

	env := &BuildEnv{Creator: opts.Creator, Rand: opts.Rand, Logger: opts.Logger}
	for _, role := range cfg.Roles() {
		if role != config.FeatureRole && role != config.ClassifierRole {
			return nil, errors.WithStack(&config.Error{Field: "networks." + role,
				Msg: "unsupported network role"})
		}
		m, err := Build(env, role, cfg.Networks[role])
		if err != nil {
			return nil, err
		}
		a.modules[role] = m
	}
	var ok bool
	if a.feature, ok = a.modules[config.FeatureRole].(fewshot.Layer); !ok {
		return nil, errors.WithStack(&config.Error{Field: "networks.feat_model.def_file",
			Msg: "architecture is not a feature extractor"})
	}
	if cfg.Networks[config.FeatureRole].OptimParams == nil {
		a.feature = &fewshot.ParamHider{Layer: a.feature}
	}
	if a.classifier, ok = a.modules[config.ClassifierRole].(*classifier.Cosine); !ok {
		return nil, errors.WithStack(&config.Error{Field: "networks.classifier.def_file",
			Msg: "architecture is not a cosine classifier"})
	}

	_, crit := cfg.Criterion()
	var err error
	if a.criterion, err = fewshot.NewCriterion(crit.CType); err != nil {
		return nil, err
	}

	if err := a.loadPretrained(); err != nil {
		return nil, err
	}

	for _, role := range cfg.Roles() {
		params := cfg.Networks[role].OptimParams
		if params == nil {
			continue
		}
		oc, err := params.OptimConfig()
		if err != nil {
			return nil, err
		}
		if a.optims[role], err = optim.New(a.modules[role].Parameters(), oc); err != nil {
			return nil, err
		}
	}

	if cfg.ExpDir != "" {
		a.store = checkpoint.NewStore(a.fs, cfg.ExpDir, a.logger)
	}
	if err := a.transition(Loaded); err != nil {
		return nil, err
	}
	return a, nil
}

// Feature returns the feature extractor.
func (a *Algorithm) Feature() fewshot.Layer {
	return a.feature
}

// Classifier returns the classifier.
func (a *Algorithm) Classifier() *classifier.Cosine {
	return a.classifier
}

// Optimizer returns the optimizer of a role, or nil if the
// role's network is frozen.
func (a *Algorithm) Optimizer(role string) *optim.Optimizer {
	return a.optims[role]
}

// Creator returns the creator of every vector the
// Algorithm works with.
func (a *Algorithm) Creator() anyvec.Creator {
	return a.creator
}

// ExtractFeatures applies the feature extractor in
// inference mode to a batch of n packed inputs.
func (a *Algorithm) ExtractFeatures(in anyvec.Vector, n int) anyvec.Vector {
	fewshot.SetTraining(a.feature, false)
	return a.feature.Apply(anydiff.NewConst(in), n).Output()
}

// Store returns the checkpoint store, or nil.
func (a *Algorithm) Store() *checkpoint.Store {
	return a.store
}

func (a *Algorithm) loadPretrained() error {
	for _, role := range a.Config.Roles() {
		ref := a.Config.Networks[role].Pretrained
		if ref == nil {
			continue
		}
		store := checkpoint.NewStore(a.fs, ref.Dir(a.root), a.logger)
		loaded, err := store.Load(ref.Epoch, ref.Role, false)
		if err != nil {
			return errors.Wrapf(err, "load pretrained %s", role)
		}
		if err := a.restoreNet(role, loaded.Net, false); err != nil {
			return errors.Wrapf(err, "load pretrained %s", role)
		}
		a.logger.Info("loaded pretrained network",
			zap.String("role", role),
			zap.String("experiment", ref.Experiment),
			zap.Int("epoch", loaded.Epoch))
	}
	return nil
}

// restoreNet copies the parameters and buffers of a
// serialized network into the role's network.
//
// With exact unset, the saved network may have fewer
// parameters than the current one, as when a classifier
// gains a weight generator after base pretraining.
func (a *Algorithm) restoreNet(role string, data []byte, exact bool) error {
	var saved Module
	if err := serializer.DeserializeAny(data, &saved); err != nil {
		return err
	}
	dst, src := varVectors(a.modules[role].Parameters()), varVectors(saved.Parameters())
	dstBufs, srcBufs := fewshot.AllBuffers(a.modules[role]), fewshot.AllBuffers(saved)
	if err := checkVectors("parameter", dst, src, exact); err != nil {
		return err
	}
	if err := checkVectors("buffer", dstBufs, srcBufs, exact); err != nil {
		return err
	}
	for i, v := range src {
		dst[i].Set(v)
	}
	for i, v := range srcBufs {
		dstBufs[i].Set(v)
	}
	return nil
}

func varVectors(vars []*anydiff.Var) []anyvec.Vector {
	res := make([]anyvec.Vector, len(vars))
	for i, v := range vars {
		res[i] = v.Vector
	}
	return res
}

func checkVectors(kind string, dst, src []anyvec.Vector, exact bool) error {
	if len(src) > len(dst) || (exact && len(src) != len(dst)) {
		return errors.Errorf("saved network has %d %ss but %d are expected",
			len(src), kind, len(dst))
	}
	for i, v := range src {
		if v.Len() != dst[i].Len() {
			return errors.Errorf("%s %d has size %d but %d is expected", kind, i,
				v.Len(), dst[i].Len())
		}
	}
	return nil
}

// LoadCheckpoint restores the networks from the store.
//
// Every selector is resolved before anything is loaded, so
// a missing or ambiguous checkpoint fails without side
// effects.
// Roles with a pretrained network or without parameters
// may be absent from the checkpoint.
// If train is set, optimizer states and the epoch counter
// are restored too, so that training resumes.
func (a *Algorithm) LoadCheckpoint(sel checkpoint.Selector, train bool) error {
	if a.state != Loaded {
		return errors.Wrapf(ErrTransition, "load checkpoint in state %s", a.state)
	}
	if a.store == nil {
		return errors.New("load checkpoint: no experiment directory")
	}
	var roles []string
	epoch := -1
	for _, role := range a.Config.Roles() {
		e, err := a.store.Resolve(sel, role)
		if err != nil {
			var resErr *checkpoint.ResolutionError
			if errors.As(err, &resErr) && len(resErr.Matches) < 2 &&
				(a.Config.Networks[role].Pretrained != nil ||
					len(a.modules[role].Parameters()) == 0) {
				a.logger.Info("keeping network", zap.String("role", role))
				continue
			}
			return err
		}
		if train && epoch >= 0 && e != epoch {
			return errors.Errorf("load checkpoint: roles saved at different epochs (%d, %d)",
				epoch, e)
		}
		epoch = e
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return errors.New("load checkpoint: nothing to load")
	}

	for _, role := range roles {
		withOptim := train && a.optims[role] != nil
		loaded, err := a.store.Load(sel, role, withOptim)
		if err != nil {
			return err
		}
		if err := a.restoreNet(role, loaded.Net, true); err != nil {
			return errors.Wrapf(err, "load checkpoint %s", role)
		}
		if withOptim {
			if err := a.optims[role].UnmarshalBinary(loaded.Optim); err != nil {
				return errors.Wrapf(err, "load checkpoint %s", role)
			}
		}
	}
	if train {
		a.CurrentEpoch = epoch
	}
	a.logger.Info("loaded checkpoint",
		zap.Stringer("selector", sel),
		zap.Int("epoch", epoch),
		zap.Strings("roles", roles))
	return nil
}

func (a *Algorithm) snapshot(epoch int, metric float64) (*checkpoint.Snapshot, error) {
	snap := &checkpoint.Snapshot{
		Epoch:  epoch,
		Metric: metric,
		Nets:   map[string][]byte{},
		Optims: map[string][]byte{},
	}
	for role, m := range a.modules {
		data, err := serializer.SerializeAny(m)
		if err != nil {
			return nil, errors.Wrapf(err, "serialize %s", role)
		}
		snap.Nets[role] = data
	}
	for role, o := range a.optims {
		data, err := o.MarshalBinary()
		if err != nil {
			return nil, errors.Wrapf(err, "serialize %s optimizer", role)
		}
		snap.Optims[role] = data
	}
	return snap, nil
}

func zapState(key string, s State) zap.Field {
	return zap.Stringer(key, s)
}
