// Package optim implements the per-network optimizers and
// learning rate schedules used to train few-shot models.
package optim

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// Config describes an optimizer, mirroring the
// optim_params of a network in an experiment config.
type Config struct {
	// OptimType is "sgd", "adam" or "rmsprop".
	OptimType   string
	LR          float64
	Momentum    float64
	WeightDecay float64
	Nesterov    bool

	// Schedule, if non-nil, overrides LR at the start of
	// every epoch.
	Schedule Rater
}

// An Optimizer updates one network's parameters.
//
// Each network owns one Optimizer, so different networks
// can follow different schedules.
type Optimizer struct {
	Params      []*anydiff.Var
	Transformer Transformer

	// LR is the current learning rate.
	LR float64

	// WeightDecay adds WeightDecay*p to the gradient of
	// every parameter p before it is transformed.
	WeightDecay float64

	Schedule Rater
}

// New creates an Optimizer for the parameters.
func New(params []*anydiff.Var, c Config) (*Optimizer, error) {
	res := &Optimizer{
		Params:      params,
		LR:          c.LR,
		WeightDecay: c.WeightDecay,
		Schedule:    c.Schedule,
	}
	switch c.OptimType {
	case "sgd":
		if c.Momentum != 0 {
			res.Transformer = &Momentum{Momentum: c.Momentum, Nesterov: c.Nesterov}
		}
	case "adam":
		res.Transformer = &Adam{}
	case "rmsprop":
		res.Transformer = &RMSProp{}
	default:
		return nil, fmt.Errorf("new optimizer: unknown optim_type %q", c.OptimType)
	}
	return res, nil
}

// SetEpoch applies the schedule for a 1-based epoch and
// returns the resulting learning rate.
// Without a schedule, the rate is left alone.
func (o *Optimizer) SetEpoch(epoch int) float64 {
	if o.Schedule != nil {
		o.LR = o.Schedule.Rate(float64(epoch - 1))
	}
	return o.LR
}

// Step takes one descent step using the entries of g that
// belong to o.Params.
// Entries for other variables are left untouched, so one
// gradient can be shared by several optimizers.
func (o *Optimizer) Step(g anydiff.Grad) {
	sub := anydiff.Grad{}
	for _, p := range o.Params {
		if vec, ok := g[p]; ok {
			sub[p] = vec
		}
	}
	if len(sub) == 0 {
		return
	}
	if o.WeightDecay != 0 {
		for p, vec := range sub {
			decay := p.Vector.Copy()
			decay.Scale(decay.Creator().MakeNumeric(o.WeightDecay))
			vec.Add(decay)
		}
	}
	if o.Transformer != nil {
		sub = o.Transformer.Transform(sub)
	}
	scaleGrad(sub, -o.LR)
	sub.AddToVars()
}

// MarshalBinary saves the learning rate and the state of
// the Transformer.
func (o *Optimizer) MarshalBinary() ([]byte, error) {
	var state []byte
	if sm, ok := o.Transformer.(StateMarshaler); ok {
		var err error
		state, err = sm.MarshalState(o.Params)
		if err != nil {
			return nil, essentials.AddCtx("marshal optimizer", err)
		}
	}
	return serializer.SerializeAny(serializer.Float64(o.LR), serializer.Bytes(state))
}

// UnmarshalBinary restores state saved by MarshalBinary.
// o.Params and the Transformer type must match the saved
// optimizer.
func (o *Optimizer) UnmarshalBinary(data []byte) error {
	var lr serializer.Float64
	var state serializer.Bytes
	if err := serializer.DeserializeAny(data, &lr, &state); err != nil {
		return essentials.AddCtx("unmarshal optimizer", err)
	}
	o.LR = float64(lr)
	if sm, ok := o.Transformer.(StateMarshaler); ok {
		if err := sm.UnmarshalState(o.Params, state); err != nil {
			return essentials.AddCtx("unmarshal optimizer", err)
		}
	}
	return nil
}
