package optim

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments SGD technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
// It is selected with optim_type "adam".
type Adam struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, defaults as suggested in the
	// original Adam paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// This should be very small.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform transforms the gradient using Adam.
//
// This is not thread-safe.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	a.updateMoments(realGrad)

	a.iteration++
	scalingFactor := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := a.damping()
	for variable, vec := range realGrad {
		firstVec := a.firstMoment[variable]
		secondVec := a.secondMoment[variable]

		vec.Set(firstVec)
		vec.Scale(vec.Creator().MakeNumeric(scalingFactor))

		divisor := secondVec.Copy()
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		vec.Div(divisor)
	}

	return realGrad
}

func (a *Adam) updateMoments(grad anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = copyGrad(grad)
		scaleGrad(a.firstMoment, 1-a.decayRate(1))
	} else {
		decayRate := a.decayRate(1)
		scaleGrad(a.firstMoment, decayRate)

		keepRate := 1 - decayRate
		for variable, vec := range grad {
			momentVec := a.firstMoment[variable]
			v := vec.Copy()
			v.Scale(vec.Creator().MakeNumeric(keepRate))
			momentVec.Add(v)
		}
	}

	if a.secondMoment == nil {
		a.secondMoment = copyGrad(grad)
		for _, v := range a.secondMoment {
			anyvec.Pow(v, v.Creator().MakeNumeric(2))
		}
		scaleGrad(a.secondMoment, 1-a.decayRate(2))
	} else {
		decayRate := a.decayRate(2)
		scaleGrad(a.secondMoment, decayRate)
		keepRate := 1 - decayRate
		for variable, vec := range grad {
			momentVec := a.secondMoment[variable]
			v := vec.Copy()
			anyvec.Pow(v, v.Creator().MakeNumeric(2))
			v.Scale(v.Creator().MakeNumeric(keepRate))
			momentVec.Add(v)
		}
	}
}

func (a *Adam) decayRate(moment int) float64 {
	switch moment {
	case 1:
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	case 2:
		return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	default:
		panic("invalid moment")
	}
}

func (a *Adam) damping() float64 {
	if a.Damping != 0 {
		return a.Damping
	}
	return adamDefaultDamping
}

// MarshalState saves both moments and the iteration count.
func (a *Adam) MarshalState(vars []*anydiff.Var) ([]byte, error) {
	first, err := slot(a.firstMoment).encode("first_moment", vars)
	if err != nil {
		return nil, essentials.AddCtx("marshal Adam", err)
	}
	second, err := slot(a.secondMoment).encode("second_moment", vars)
	if err != nil {
		return nil, essentials.AddCtx("marshal Adam", err)
	}
	return serializer.SerializeAny(serializer.Float64(a.iteration),
		serializer.Bytes(first), serializer.Bytes(second))
}

// UnmarshalState restores state saved by MarshalState.
func (a *Adam) UnmarshalState(vars []*anydiff.Var, data []byte) error {
	var iteration serializer.Float64
	var first, second serializer.Bytes
	if err := serializer.DeserializeAny(data, &iteration, &first, &second); err != nil {
		return essentials.AddCtx("unmarshal Adam", err)
	}
	firstMoment, err := decodeSlot("first_moment", vars, first)
	if err != nil {
		return essentials.AddCtx("unmarshal Adam", err)
	}
	secondMoment, err := decodeSlot("second_moment", vars, second)
	if err != nil {
		return essentials.AddCtx("unmarshal Adam", err)
	}
	a.iteration = float64(iteration)
	a.firstMoment = anydiff.Grad(firstMoment)
	a.secondMoment = anydiff.Grad(secondMoment)
	return nil
}
