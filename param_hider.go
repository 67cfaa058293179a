package fewshot

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

// A ParamHider wraps a Layer and does not implement
// Parameterizer, so that gradients are never computed for
// the wrapped layer's variables.
//
// Frozen pretrained feature extractors are applied through
// a ParamHider.
type ParamHider struct {
	Layer Layer
}

// Apply applies the wrapped layer.
func (p *ParamHider) Apply(in anydiff.Res, n int) anydiff.Res {
	return p.Layer.Apply(in, n)
}

// Buffers exposes the buffers of the wrapped layer, which
// are restored along with a checkpoint.
func (p *ParamHider) Buffers() []anyvec.Vector {
	return AllBuffers(p.Layer)
}
