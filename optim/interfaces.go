package optim

import "github.com/unixpickle/anydiff"

// A Transformer transforms gradients before a step, e.g.
// to add momentum or per-parameter scaling.
//
// After its first call, a Transformer expects to see
// gradients of the same form (i.e. containing the same
// variables).
//
// A Transformer may modify its own input and return the
// same gradient as an output.
// The input still belongs to the caller; a Transformer
// that caches anything must allocate its own gradient.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A StateMarshaler is a Transformer whose internal state
// can be saved in a checkpoint.
//
// The variable list fixes the order in which per-variable
// state is written, so it must be the same list when the
// state is restored.
type StateMarshaler interface {
	Transformer
	MarshalState(vars []*anydiff.Var) ([]byte, error)
	UnmarshalState(vars []*anydiff.Var, data []byte) error
}

// A Rater determines the learning rate given the epoch.
// An "epoch" is a full pass over the training episodes,
// counted from 0, so fractional epochs are possible.
type Rater interface {
	Rate(epoch float64) float64
}
