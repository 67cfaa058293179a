// Package fewshot provides the network building blocks
// used by few-shot classification experiments.
//
// Networks operate on packed batches: a batch of n
// vectors is a single vector whose length is a multiple
// of n.
// Sub-packages implement episode sampling, optimization,
// classification heads, checkpointing and the training
// orchestrator.
package fewshot

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var n Net
	serializer.RegisterTypedDeserializer(n.SerializerType(), DeserializeNet)
}

// A Parameterizer is anything with learnable variables.
//
// The parameters of a Parameterizer must be in the same
// order every time Parameters() is called.
type Parameterizer interface {
	Parameters() []*anydiff.Var
}

// A Buffered object has state which is estimated from
// data rather than learned, such as running statistics.
// It is saved and restored along with the parameters but
// never optimized.
type Buffered interface {
	Buffers() []anyvec.Vector
}

// A Layer is a composable computation unit.
//
// A Layer's Apply method is inherently batched.
// The input's length must be divisible by the batch size.
type Layer interface {
	Apply(in anydiff.Res, batchSize int) anydiff.Res
}

// A Net evaluates a list of layers, one after another.
//
// An empty Net is the identity, which is how feature
// extractors over precomputed features are expressed.
type Net []Layer

// DeserializeNet attempts to deserialize the network.
func DeserializeNet(d []byte) (Net, error) {
	slice, err := serializer.DeserializeSlice(d)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Net", err)
	}
	res := make(Net, len(slice))
	for i, x := range slice {
		if layer, ok := x.(Layer); ok {
			res[i] = layer
		} else {
			return nil, fmt.Errorf("deserialize Net: not a Layer: %T", x)
		}
	}
	return res, nil
}

// Apply applies the network to a batch.
func (n Net) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	for _, l := range n {
		in = l.Apply(in, batchSize)
	}
	return in
}

// Parameters returns the parameters of every layer which
// implements Parameterizer, first layer first.
func (n Net) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, x := range n {
		if p, ok := x.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// Buffers returns the buffers of every layer, first
// layer first.
func (n Net) Buffers() []anyvec.Vector {
	var res []anyvec.Vector
	for _, x := range n {
		res = append(res, AllBuffers(x)...)
	}
	return res
}

// SerializerType returns the unique ID used to serialize
// a Net with the serializer package.
func (n Net) SerializerType() string {
	return "github.com/qinzhengmei/MABAS.Net"
}

// Serialize attempts to serialize the network.
// If any Layer is not a serializer.Serializer,
// this fails.
func (n Net) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, x := range n {
		if s, ok := x.(serializer.Serializer); ok {
			slice = append(slice, s)
		} else {
			return nil, fmt.Errorf("not a Serializer: %T", x)
		}
	}
	return serializer.SerializeSlice(slice)
}

// AllParameters collects the parameters of every object
// which implements Parameterizer.
// Other objects are ignored.
func AllParameters(objs ...interface{}) []*anydiff.Var {
	var res []*anydiff.Var
	for _, obj := range objs {
		if p, ok := obj.(Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// AllBuffers collects the buffers of every object which
// implements Buffered.
func AllBuffers(objs ...interface{}) []anyvec.Vector {
	var res []anyvec.Vector
	for _, obj := range objs {
		if b, ok := obj.(Buffered); ok {
			res = append(res, b.Buffers()...)
		}
	}
	return res
}

// SetTraining switches every training-dependent layer
// reachable from l into training or inference mode.
//
// This toggles Dropout and BatchNorm layers, including
// those nested inside Nets and ParamHiders.
func SetTraining(l Layer, training bool) {
	switch l := l.(type) {
	case Net:
		for _, sub := range l {
			SetTraining(sub, training)
		}
	case *ParamHider:
		SetTraining(l.Layer, training)
	case *Dropout:
		l.Training = training
	case *BatchNorm:
		l.Training = training
	}
}
