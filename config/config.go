// Package config loads and validates experiment
// configurations.
//
// A Config is loaded once per process and treated as an
// immutable value: WithExpDir and Rebase return modified
// copies.
package config

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	fewshot "github.com/qinzhengmei/MABAS"
	"github.com/qinzhengmei/MABAS/dataset"
	"github.com/qinzhengmei/MABAS/episode"
	"github.com/qinzhengmei/MABAS/optim"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
)

// FewShotAlgorithm is the only supported algorithm_type.
const FewShotAlgorithm = "FewShot"

// IdentityDefFile is the architecture of a feature
// extractor that passes its inputs through.
const IdentityDefFile = "identity"

// EpisodeOptions configures the episodes of one data
// loader.
type EpisodeOptions struct {
	NKnovel    int `yaml:"nKnovel"`
	NKbase     int `yaml:"nKbase"`
	NExemplars int `yaml:"nExemplars"`
	NTestNovel int `yaml:"nTestNovel"`
	NTestBase  int `yaml:"nTestBase"`
	BatchSize  int `yaml:"batch_size"`

	// EpochSize counts episodes, not batches.
	EpochSize int `yaml:"epoch_size"`
}

// Shape returns the episode shape.
func (e EpisodeOptions) Shape() episode.Shape {
	return episode.Shape{
		NKnovel:    e.NKnovel,
		NKbase:     e.NKbase,
		NExemplars: e.NExemplars,
		NTestNovel: e.NTestNovel,
		NTestBase:  e.NTestBase,
	}
}

func (e EpisodeOptions) validate(field string) error {
	if err := e.Shape().Validate(); err != nil {
		return errorf(field, "%s", err.Error())
	}
	if e.BatchSize <= 0 {
		return errorf(field+".batch_size", "must be positive")
	}
	if e.EpochSize <= 0 || e.EpochSize%e.BatchSize != 0 {
		return errorf(field+".epoch_size", "%d is not a positive multiple of batch_size %d",
			e.EpochSize, e.BatchSize)
	}
	return nil
}

// OptimParams configures a network's optimizer.
type OptimParams struct {
	OptimType   string       `yaml:"optim_type"`
	LR          float64      `yaml:"lr"`
	Momentum    float64      `yaml:"momentum"`
	WeightDecay float64      `yaml:"weight_decay"`
	Nesterov    bool         `yaml:"nesterov"`
	LUT         [][2]float64 `yaml:"LUT_lr"`
}

// OptimConfig converts the parameters for optim.New.
func (o *OptimParams) OptimConfig() (optim.Config, error) {
	res := optim.Config{
		OptimType:   o.OptimType,
		LR:          o.LR,
		Momentum:    o.Momentum,
		WeightDecay: o.WeightDecay,
		Nesterov:    o.Nesterov,
	}
	if len(o.LUT) == 0 {
		res.Schedule = optim.ConstRater(o.LR)
		return res, nil
	}
	lut, err := optim.NewLUT(o.LUT)
	if err != nil {
		return res, err
	}
	res.Schedule = lut
	return res, nil
}

// A Network configures one network role.
type Network struct {
	// DefFile names the architecture.
	DefFile string `yaml:"def_file"`

	Pretrained  *PretrainedRef `yaml:"pretrained"`
	Opt         Options        `yaml:"opt"`
	OptimParams *OptimParams   `yaml:"optim_params"`
}

// A Criterion configures a loss.
type Criterion struct {
	CType string  `yaml:"ctype"`
	Opt   Options `yaml:"opt"`
}

// Config is an experiment configuration.
type Config struct {
	// Name is the configuration's file name without
	// extension.
	Name string `yaml:"-"`

	// Dataset is a dataset identifier; if empty, it is
	// derived from Name.
	Dataset string `yaml:"dataset"`

	DataTrain     EpisodeOptions        `yaml:"data_train_opt"`
	DataTest      EpisodeOptions        `yaml:"data_test_opt"`
	MaxNumEpochs  int                   `yaml:"max_num_epochs"`
	Networks      map[string]*Network   `yaml:"networks"`
	Criterions    map[string]*Criterion `yaml:"criterions"`
	AlgorithmType string                `yaml:"algorithm_type"`

	// ExpDir is the experiment output directory.
	ExpDir string `yaml:"-"`
}

// Load reads and validates a YAML configuration.
func Load(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res, err := Parse(name, data)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return res, nil
}

// Parse decodes and validates a YAML configuration.
func Parse(name string, data []byte) (*Config, error) {
	var res Config
	if err := yaml.UnmarshalStrict(data, &res); err != nil {
		return nil, errors.WithStack(&Error{Msg: err.Error()})
	}
	res.Name = name
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// Validate checks the configuration for errors.
// Every error is an *Error.
func (c *Config) Validate() error {
	if c.AlgorithmType != FewShotAlgorithm {
		return errorf("algorithm_type", "unsupported algorithm %q", c.AlgorithmType)
	}
	if _, err := c.DatasetID(); err != nil {
		return errorf("dataset", "%s", err.Error())
	}
	if c.MaxNumEpochs <= 0 {
		return errorf("max_num_epochs", "must be positive")
	}
	if err := c.DataTrain.validate("data_train_opt"); err != nil {
		return err
	}
	if err := c.DataTest.validate("data_test_opt"); err != nil {
		return err
	}
	for _, role := range []string{FeatureRole, ClassifierRole} {
		if c.Networks[role] == nil {
			return errorf("networks."+role, "missing network")
		}
	}
	for _, role := range c.Roles() {
		net := c.Networks[role]
		field := "networks." + role
		if net == nil {
			return errorf(field, "empty network")
		}
		if net.DefFile == "" {
			return errorf(field+".def_file", "missing architecture")
		}
		if net.OptimParams != nil {
			oc, err := net.OptimParams.OptimConfig()
			if err != nil {
				return errorf(field+".optim_params.LUT_lr", "%s", err.Error())
			}
			if _, err := optim.New(nil, oc); err != nil {
				return errorf(field+".optim_params.optim_type", "%s", err.Error())
			}
		}
	}
	if len(c.Criterions) == 0 {
		return errorf("criterions", "no criterion")
	}
	for name, crit := range c.Criterions {
		if crit == nil {
			return errorf("criterions."+name, "empty criterion")
		}
		if _, err := fewshot.NewCriterion(crit.CType); err != nil {
			return errorf("criterions."+name+".ctype", "%s", err.Error())
		}
	}
	return nil
}

// DatasetID returns the configured dataset, falling back
// to the prefix of the configuration name.
func (c *Config) DatasetID() (dataset.ID, error) {
	return dataset.Resolve(c.Dataset, c.Name)
}

// Roles returns the sorted network roles.
func (c *Config) Roles() []string {
	var res []string
	for role := range c.Networks {
		res = append(res, role)
	}
	sort.Strings(res)
	return res
}

// Criterion returns the only criterion, or the one named
// "loss" if there are several.
func (c *Config) Criterion() (string, *Criterion) {
	if crit, ok := c.Criterions["loss"]; ok {
		return "loss", crit
	}
	for name, crit := range c.Criterions {
		return name, crit
	}
	return "", nil
}

// WithExpDir returns a copy of c with an experiment
// directory.
func (c *Config) WithExpDir(dir string) *Config {
	res := c.clone()
	res.ExpDir = dir
	return res
}

// Rebase returns a copy of c whose pretrained references
// point into the given parent experiments.
func (c *Config) Rebase(featParent, parent string) (*Config, error) {
	res := c.clone()
	for _, role := range res.Roles() {
		net := res.Networks[role]
		if net.Pretrained == nil {
			continue
		}
		ref, err := net.Pretrained.Rebase(role, featParent, parent)
		if err != nil {
			return nil, err
		}
		net.Pretrained = ref
	}
	return res, nil
}

// WithPrecomputedFeatures returns a copy of c for inputs
// that are already the output of the feature extractor.
// The feature extractor becomes a frozen identity.
func (c *Config) WithPrecomputedFeatures() *Config {
	res := c.clone()
	net := res.Networks[FeatureRole]
	net.DefFile = IdentityDefFile
	net.Opt = nil
	net.Pretrained = nil
	net.OptimParams = nil
	return res
}

// clone copies c deeply enough for the copy's networks to
// be modified.
func (c *Config) clone() *Config {
	res := *c
	res.Networks = map[string]*Network{}
	for role, net := range c.Networks {
		netCopy := *net
		res.Networks[role] = &netCopy
	}
	return &res
}
