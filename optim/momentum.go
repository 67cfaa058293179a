package optim

import "github.com/unixpickle/anydiff"

// Momentum implements SGD with (optionally Nesterov)
// momentum.
//
// The rolling velocity v is updated as
//
//     v := momentum * v + grad
//
// and the transformed gradient is v, or grad+momentum*v
// with Nesterov momentum.
type Momentum struct {
	Momentum float64
	Nesterov bool

	rolling anydiff.Grad
}

// Transform transforms the gradient using momentum.
//
// This is not thread-safe.
func (m *Momentum) Transform(g anydiff.Grad) anydiff.Grad {
	if m.rolling == nil {
		m.rolling = copyGrad(g)
	} else {
		for v, x := range m.rolling {
			x.Scale(x.Creator().MakeNumeric(m.Momentum))
			x.Add(g[v])
		}
	}
	for v, x := range m.rolling {
		if m.Nesterov {
			step := x.Copy()
			step.Scale(step.Creator().MakeNumeric(m.Momentum))
			g[v].Add(step)
		} else {
			g[v].Set(x)
		}
	}
	return g
}

// MarshalState saves the rolling velocity.
func (m *Momentum) MarshalState(vars []*anydiff.Var) ([]byte, error) {
	return slot(m.rolling).encode("velocity", vars)
}

// UnmarshalState restores the rolling velocity.
func (m *Momentum) UnmarshalState(vars []*anydiff.Var, data []byte) error {
	velocity, err := decodeSlot("velocity", vars, data)
	if err != nil {
		return err
	}
	m.rolling = anydiff.Grad(velocity)
	return nil
}
