// Package checkpoint stores per-epoch network and
// optimizer snapshots of an experiment, along with a YAML
// index recording every epoch's validation metric and the
// best epoch so far.
package checkpoint

import (
	"strconv"

	"github.com/pkg/errors"
)

type selectorKind int

const (
	latestKind selectorKind = iota
	bestKind
	epochKind
	bestFileKind
)

// A Selector picks one checkpoint of a store.
type Selector struct {
	kind  selectorKind
	epoch int
}

var (
	// Latest selects the most recent epoch in the index.
	Latest = Selector{kind: latestKind}

	// Best selects the best epoch in the index.
	Best = Selector{kind: bestKind}

	// BestFile selects the only best file of a role on
	// disk, without consulting the index.
	// It is used for stores written by other runs.
	BestFile = Selector{kind: bestFileKind}
)

// Epoch selects a specific epoch.
func Epoch(n int) Selector {
	return Selector{kind: epochKind, epoch: n}
}

// ParseSelector parses "latest", "best", "*" or an epoch
// number.
func ParseSelector(s string) (Selector, error) {
	switch s {
	case "latest":
		return Latest, nil
	case "best":
		return Best, nil
	case "*":
		return BestFile, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return Selector{}, errors.Errorf("invalid checkpoint selector: %q", s)
	}
	return Epoch(n), nil
}

// String returns the textual form accepted by
// ParseSelector.
func (s Selector) String() string {
	switch s.kind {
	case latestKind:
		return "latest"
	case bestKind:
		return "best"
	case bestFileKind:
		return "*"
	default:
		return strconv.Itoa(s.epoch)
	}
}

// MarshalYAML encodes the selector as a string or epoch
// number.
func (s Selector) MarshalYAML() (interface{}, error) {
	if s.kind == epochKind {
		return s.epoch, nil
	}
	return s.String(), nil
}

// UnmarshalYAML accepts the same forms as ParseSelector.
func (s *Selector) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var text string
	if err := unmarshal(&text); err != nil {
		return err
	}
	sel, err := ParseSelector(text)
	if err != nil {
		return err
	}
	*s = sel
	return nil
}
