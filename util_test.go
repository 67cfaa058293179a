package fewshot

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestNormalizeRows(t *testing.T) {
	in := anydiff.NewConst(anyvec64.MakeVectorData([]float64{
		3, 4,
		0, -2,
		1, 1,
	}))
	actual := NormalizeRows(in, 3).Output().Data().([]float64)
	expected := []float64{
		0.6, 0.8,
		0, -1,
		1 / math.Sqrt2, 1 / math.Sqrt2,
	}
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-6 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
}

func TestNormalizeRowsProp(t *testing.T) {
	vec := anyvec64.MakeVector(12)
	anyvec.Rand(vec, anyvec.Normal, nil)
	v := anydiff.NewVar(vec)
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return NormalizeRows(v, 4)
		},
		V: []*anydiff.Var{v},
	}
	checker.FullCheck(t)
}

func TestScaleRowsProp(t *testing.T) {
	vec := anyvec64.MakeVector(6)
	anyvec.Rand(vec, anyvec.Normal, nil)
	in := anydiff.NewVar(vec)
	scales := anydiff.NewVar(anyvec64.MakeVectorData([]float64{0.5, -2, 3}))
	checker := &anydifftest.ResChecker{
		F: func() anydiff.Res {
			return ScaleRows(in, scales)
		},
		V: []*anydiff.Var{in, scales},
	}
	checker.FullCheck(t)
}

func TestParamHider(t *testing.T) {
	fc := NewFCZero(anyvec64.DefaultCreator{}, 2, 3)
	net := Net{&ParamHider{Layer: fc}, ReLU}
	if len(AllParameters(net)) != 0 {
		t.Error("hidden parameters should not be exposed")
	}
	out := net.Apply(anydiff.NewConst(anyvec64.MakeVector(4)), 2)
	if out.Output().Len() != 6 {
		t.Errorf("unexpected output length: %d", out.Output().Len())
	}
}

func TestSetTraining(t *testing.T) {
	d1 := NewDropout(0.1)
	d2 := NewDropout(0.5)
	bn := NewBatchNorm(anyvec64.DefaultCreator{}, 2)
	net := Net{d1, ReLU, &ParamHider{Layer: Net{d2, bn}}}
	SetTraining(net, true)
	if !d1.Training || !d2.Training || !bn.Training {
		t.Fatal("training mode should be enabled")
	}
	if len(AllBuffers(net)) != 2 {
		t.Errorf("expected 2 buffers, got %d", len(AllBuffers(net)))
	}
	SetTraining(net, false)
	if d1.Training || d2.Training || bn.Training {
		t.Fatal("training mode should be disabled")
	}
	if d1.DropProb != 0.1 {
		t.Errorf("unexpected drop probability: %f", d1.DropProb)
	}
}


func TestDropout(t *testing.T) {
	d := NewDropout(0.25)
	in := anyvec64.MakeVector(1000)
	in.AddScalar(anyvec64.DefaultCreator{}.MakeNumeric(3))

	out := d.Apply(anydiff.NewConst(in), 10).Output().Data().([]float64)
	for _, x := range out {
		if x != 3 {
			t.Fatalf("inference should be the identity, got %f", x)
		}
	}

	d.Training = true
	out = d.Apply(anydiff.NewConst(in), 10).Output().Data().([]float64)
	var dropped int
	for _, x := range out {
		if x == 0 {
			dropped++
		} else if math.Abs(x-4) > 1e-9 {
			t.Fatalf("kept inputs should be scaled to 4, got %f", x)
		}
	}
	if dropped < 150 || dropped > 350 {
		t.Errorf("expected about 250 dropped inputs, got %d", dropped)
	}
}
