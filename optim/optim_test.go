package optim

import (
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestLUTRateForEpoch(t *testing.T) {
	lut, err := NewLUT([][2]float64{{20, 0.1}, {40, 0.006}, {50, 0.0012}, {60, 0.00024}})
	if err != nil {
		t.Fatal(err)
	}
	cases := map[int]float64{
		1:   0.1,
		20:  0.1,
		21:  0.006,
		40:  0.006,
		41:  0.0012,
		50:  0.0012,
		59:  0.00024,
		60:  0.00024,
		61:  0.00024,
		500: 0.00024,
	}
	for epoch, expected := range cases {
		if actual := lut.RateForEpoch(epoch); actual != expected {
			t.Errorf("epoch %d: expected %v but got %v", epoch, expected, actual)
		}
	}
	if lut.Rate(19.5) != 0.1 || lut.Rate(20) != 0.006 {
		t.Error("unexpected fractional rates")
	}
}

func TestNewLUTErrors(t *testing.T) {
	bad := [][][2]float64{
		nil,
		{{20, 0.1}, {20, 0.01}},
		{{20, 0.1}, {10, 0.01}},
		{{0, 0.1}},
		{{2.5, 0.1}},
		{{10, -1}},
	}
	for i, pairs := range bad {
		if _, err := NewLUT(pairs); err == nil {
			t.Errorf("table %d: expected error", i)
		}
	}
}

func TestMomentum(t *testing.T) {
	v := anydiff.NewVar(anyvec64.MakeVector(1))
	grad := func(x float64) anydiff.Grad {
		return anydiff.Grad{v: anyvec64.MakeVectorData([]float64{x})}
	}

	plain := &Momentum{Momentum: 0.5}
	if out := plain.Transform(grad(1))[v].Data().([]float64)[0]; out != 1 {
		t.Errorf("first plain step: got %f", out)
	}
	if out := plain.Transform(grad(2))[v].Data().([]float64)[0]; out != 2.5 {
		t.Errorf("second plain step: got %f", out)
	}

	nesterov := &Momentum{Momentum: 0.5, Nesterov: true}
	if out := nesterov.Transform(grad(1))[v].Data().([]float64)[0]; out != 1.5 {
		t.Errorf("first nesterov step: got %f", out)
	}
	// v = 0.5*1 + 2 = 2.5; step = 2 + 0.5*2.5
	if out := nesterov.Transform(grad(2))[v].Data().([]float64)[0]; out != 3.25 {
		t.Errorf("second nesterov step: got %f", out)
	}
}

func TestOptimizerStep(t *testing.T) {
	p := anydiff.NewVar(anyvec64.MakeVectorData([]float64{1, -2}))
	other := anydiff.NewVar(anyvec64.MakeVectorData([]float64{5}))
	opt, err := New([]*anydiff.Var{p}, Config{OptimType: "sgd", LR: 0.1, WeightDecay: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	opt.Step(anydiff.Grad{
		p:     anyvec64.MakeVectorData([]float64{1, 1}),
		other: anyvec64.MakeVectorData([]float64{1}),
	})
	// p -= 0.1 * (g + 0.5*p)
	expected := []float64{1 - 0.1*1.5, -2 - 0.1*0}
	actual := p.Vector.Data().([]float64)
	for i, x := range expected {
		if math.Abs(actual[i]-x) > 1e-12 {
			t.Fatalf("expected %v but got %v", expected, actual)
		}
	}
	if other.Vector.Data().([]float64)[0] != 5 {
		t.Error("foreign variable was modified")
	}
}

func TestOptimizerSetEpoch(t *testing.T) {
	lut, _ := NewLUT([][2]float64{{2, 0.1}, {4, 0.01}})
	opt, err := New(nil, Config{OptimType: "sgd", LR: 1, Schedule: lut})
	if err != nil {
		t.Fatal(err)
	}
	if opt.SetEpoch(3) != 0.01 || opt.LR != 0.01 {
		t.Errorf("unexpected rate %f", opt.LR)
	}
	opt, _ = New(nil, Config{OptimType: "sgd", LR: 0.5, Schedule: ConstRater(0.2)})
	if opt.SetEpoch(7) != 0.2 {
		t.Errorf("unexpected rate %f", opt.LR)
	}
	if _, err := New(nil, Config{OptimType: "lbfgs"}); err == nil {
		t.Error("expected error for unknown optimizer")
	}
}

func TestAdamConverges(t *testing.T) {
	x := anydiff.NewVar(anyvec64.MakeVectorData([]float64{3, -4}))
	opt, err := New([]*anydiff.Var{x}, Config{OptimType: "adam", LR: 0.01})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5000; i++ {
		// Gradient of |x - (1, 2)|^2.
		data := x.Vector.Data().([]float64)
		opt.Step(anydiff.Grad{
			x: anyvec64.MakeVectorData([]float64{2 * (data[0] - 1), 2 * (data[1] - 2)}),
		})
	}
	data := x.Vector.Data().([]float64)
	if math.Abs(data[0]-1) > 5e-2 || math.Abs(data[1]-2) > 5e-2 {
		t.Errorf("bad solution: %v", data)
	}
}
