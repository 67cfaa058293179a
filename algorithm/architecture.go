package algorithm

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/qinzhengmei/MABAS/classifier"
	"github.com/qinzhengmei/MABAS/config"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/serializer"
	"go.uber.org/zap"
)

// A Module is a serializable network with parameters.
type Module interface {
	serializer.Serializer
	fewshot.Parameterizer
}

// BuildEnv holds what an architecture needs besides its
// options.
type BuildEnv struct {
	Creator anyvec.Creator
	Rand    *rand.Rand
	Logger  *zap.Logger
}

// A Builder creates a freshly initialized network.
type Builder func(env *BuildEnv, opts config.Options) (Module, error)

var (
	architecturesLock sync.RWMutex
	architectures     = map[string]Builder{
		config.IdentityDefFile: buildIdentity,
		"fc_stack":             buildFCStack,
		"cosine":               buildCosine,
	}
)

// RegisterArchitecture makes an architecture available to
// the def_file field of network configurations.
func RegisterArchitecture(name string, b Builder) {
	architecturesLock.Lock()
	defer architecturesLock.Unlock()
	architectures[name] = b
}

// Architectures returns the sorted architecture names.
func Architectures() []string {
	architecturesLock.RLock()
	defer architecturesLock.RUnlock()
	var res []string
	for name := range architectures {
		res = append(res, name)
	}
	sort.Strings(res)
	return res
}

// Build creates the network of a configured role.
func Build(env *BuildEnv, role string, net *config.Network) (Module, error) {
	architecturesLock.RLock()
	b, ok := architectures[net.DefFile]
	architecturesLock.RUnlock()
	if !ok {
		return nil, errors.WithStack(&config.Error{
			Field: "networks." + role + ".def_file",
			Msg:   "unknown architecture " + net.DefFile,
		})
	}
	res, err := b(env, net.Opt)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s (%s)", role, net.DefFile)
	}
	return res, nil
}

func buildIdentity(env *BuildEnv, opts config.Options) (Module, error) {
	return fewshot.Net{}, nil
}

// buildFCStack builds a multi-layer perceptron:
// FC, BatchNorm, ReLU and Dropout per hidden layer,
// followed by an output FC and BatchNorm with an optional
// final ReLU.
func buildFCStack(env *BuildEnv, opts config.Options) (Module, error) {
	inSize, err := opts.Int("in_planes", 0)
	if err != nil {
		return nil, err
	}
	hidden, err := opts.Ints("hidden")
	if err != nil {
		return nil, err
	}
	outSize, err := opts.Int("nFeat", 0)
	if err != nil {
		return nil, err
	}
	dropout, err := opts.Float("dropout", 0)
	if err != nil {
		return nil, err
	}
	useReLU, err := opts.Bool("userelu", true)
	if err != nil {
		return nil, err
	}
	logStats, err := opts.Bool("log_stats", false)
	if err != nil {
		return nil, err
	}
	actName, err := opts.String("activation", "relu")
	if err != nil {
		return nil, err
	}
	activation, err := fewshot.ParseActivation(actName)
	if err != nil {
		return nil, errors.Wrap(err, "fc_stack")
	}
	if inSize <= 0 || outSize <= 0 {
		return nil, errors.Errorf("fc_stack: in_planes and nFeat must be positive")
	}
	if dropout < 0 || dropout >= 1 {
		return nil, errors.Errorf("fc_stack: dropout %v out of range", dropout)
	}

	var res fewshot.Net
	size := inSize
	for i, h := range append(hidden, outSize) {
		if h <= 0 {
			return nil, errors.Errorf("fc_stack: layer %d has size %d", i, h)
		}
		res = append(res,
			fewshot.NewFC(env.Creator, size, h, env.Rand),
			fewshot.NewBatchNorm(env.Creator, h),
		)
		last := i == len(hidden)
		if !last || useReLU {
			res = append(res, activation)
		}
		if !last && dropout > 0 {
			res = append(res, fewshot.NewDropout(dropout))
		}
		if logStats {
			res = append(res, &fewshot.Stats{ID: fmt.Sprintf("fc%d", i), Logger: env.Logger})
		}
		size = h
	}
	return res, nil
}

func buildCosine(env *BuildEnv, opts config.Options) (Module, error) {
	ctype, err := opts.String("classifier_type", "cosine")
	if err != nil {
		return nil, err
	}
	if ctype != "cosine" {
		return nil, errors.Errorf("unsupported classifier_type %q", ctype)
	}
	var co classifier.Options
	if co.NumClasses, err = opts.Int("nKall", 0); err != nil {
		return nil, err
	}
	if co.NumFeatures, err = opts.Int("nFeat", 0); err != nil {
		return nil, err
	}
	if co.Scale, err = opts.Float("scale_cls", 10); err != nil {
		return nil, err
	}
	if co.WeightGenerator, err = opts.String("weight_generator_type", "none"); err != nil {
		return nil, err
	}
	if co.BaseLabelIDs, err = opts.Ints("base_label_ids"); err != nil {
		return nil, err
	}
	return classifier.NewCosine(env.Creator, co, env.Rand)
}
