package config

import (
	"path"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/qinzhengmei/MABAS/checkpoint"
)

// ExperimentsDir is the directory experiment references
// are relative to.
const ExperimentsDir = "experiments"

// Network roles which may refer to pretrained networks of
// other experiments.
const (
	FeatureRole    = "feat_model"
	ClassifierRole = "classifier"
)

var legacyFileExpr = regexp.MustCompile(`^([A-Za-z0-9_]+)_net_epoch(\*|[0-9]+)(\.best)?$`)

// A PretrainedRef points at a network saved by another
// experiment.
type PretrainedRef struct {
	// Experiment is the experiment directory, relative to
	// ExperimentsDir.
	Experiment string `yaml:"experiment"`

	// Role is the role the network was saved under.
	Role string `yaml:"role"`

	Epoch checkpoint.Selector `yaml:"epoch"`
}

// ParsePretrainedPath parses a reference of the form
//
//     ./experiments/<experiment>/<role>_net_epoch<N or *>[.best]
func ParsePretrainedPath(p string) (*PretrainedRef, error) {
	parts := strings.SplitN(p, "/", 4)
	if len(parts) != 4 || parts[0] != "." || parts[1] != ExperimentsDir || parts[2] == "" {
		return nil, errors.Errorf("pretrained path %q is not ./%s/<experiment>/<file>",
			p, ExperimentsDir)
	}
	m := legacyFileExpr.FindStringSubmatch(parts[3])
	if m == nil {
		return nil, errors.Errorf("pretrained path %q does not name a network file", p)
	}
	sel := checkpoint.BestFile
	if m[2] != "*" {
		var err error
		sel, err = checkpoint.ParseSelector(m[2])
		if err != nil {
			return nil, err
		}
	} else if m[3] == "" {
		return nil, errors.Errorf("pretrained path %q: wildcard epochs must select a best file", p)
	}
	return &PretrainedRef{Experiment: parts[2], Role: m[1], Epoch: sel}, nil
}

// Dir returns the experiment directory under root.
func (p *PretrainedRef) Dir(root string) string {
	return path.Join(root, ExperimentsDir, p.Experiment)
}

// Rebase returns a copy of the reference pointing into a
// new parent experiment.
// Feature extractors come from featParent, classifiers
// from parent.
func (p *PretrainedRef) Rebase(role, featParent, parent string) (*PretrainedRef, error) {
	res := *p
	switch role {
	case FeatureRole:
		res.Experiment = featParent
	case ClassifierRole:
		res.Experiment = parent
	default:
		return nil, errorf("networks."+role+".pretrained",
			"cannot rebase pretrained network of role %q", role)
	}
	if res.Experiment == "" {
		return nil, errorf("networks."+role+".pretrained", "empty parent experiment")
	}
	return &res, nil
}

// UnmarshalYAML accepts a typed mapping or a legacy path
// string.
func (p *PretrainedRef) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var text string
	if err := unmarshal(&text); err == nil {
		ref, err := ParsePretrainedPath(text)
		if err != nil {
			return err
		}
		*p = *ref
		return nil
	}
	type rawRef PretrainedRef
	raw := rawRef{Epoch: checkpoint.BestFile}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*p = PretrainedRef(raw)
	return nil
}
