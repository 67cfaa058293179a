package fewshot

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

type meanRowsRes struct {
	In     anydiff.Res
	Scaler anyvec.Numeric
	Out    anyvec.Vector
}

// negMeanRows computes the negative of the mean of the
// rows in a row-major matrix.
func negMeanRows(in anydiff.Res, cols int) anydiff.Res {
	if in.Output().Len()%cols != 0 {
		panic("column count must divide input size")
	}
	rows := in.Output().Len() / cols
	scaler := in.Output().Creator().MakeNumeric(-1 / float64(rows))
	out := anyvec.SumRows(in.Output().Copy(), cols)
	out.Scale(scaler)
	return &meanRowsRes{
		In:     in,
		Scaler: scaler,
		Out:    out,
	}
}

func (m *meanRowsRes) Output() anyvec.Vector {
	return m.Out
}

func (m *meanRowsRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *meanRowsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Scale(m.Scaler)
	downstream := m.Out.Creator().MakeVector(m.In.Output().Len())
	anyvec.AddRepeated(downstream, u)
	m.In.Propagate(downstream, g)
}

type meanSquareRes struct {
	In     anydiff.Res
	Scaler anyvec.Numeric
	Out    anyvec.Vector
}

// meanSquare is like negMeanRows, but it squares the rows
// before taking their (positive) mean.
func meanSquare(in anydiff.Res, cols int) anydiff.Res {
	if in.Output().Len()%cols != 0 {
		panic("column count must divide input size")
	}
	rows := in.Output().Len() / cols
	scaler := in.Output().Creator().MakeNumeric(1 / float64(rows))
	squareIn := in.Output().Copy()
	squareIn.Mul(in.Output())
	out := anyvec.SumRows(squareIn, cols)
	out.Scale(scaler)
	return &meanSquareRes{
		In:     in,
		Scaler: in.Output().Creator().MakeNumeric(2 / float64(rows)),
		Out:    out,
	}
}

func (m *meanSquareRes) Output() anyvec.Vector {
	return m.Out
}

func (m *meanSquareRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *meanSquareRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Scale(m.Scaler)
	downstream := m.Out.Creator().MakeVector(m.In.Output().Len())
	anyvec.AddRepeated(downstream, u)
	downstream.Mul(m.In.Output())
	m.In.Propagate(downstream, g)
}

type scaleRowsRes struct {
	In     anydiff.Res
	Scales anydiff.Res
	Out    anyvec.Vector
	V      anydiff.VarSet
}

// ScaleRows multiplies every row of a row-major matrix by
// the corresponding entry of scales.
// The number of rows is scales.Output().Len().
func ScaleRows(in, scales anydiff.Res) anydiff.Res {
	if in.Output().Len()%scales.Output().Len() != 0 {
		panic("row count must divide input size")
	}
	out := in.Output().Copy()
	anyvec.ScaleChunks(out, scales.Output())
	return &scaleRowsRes{
		In:     in,
		Scales: scales,
		Out:    out,
		V:      anydiff.MergeVarSets(in.Vars(), scales.Vars()),
	}
}

func (s *scaleRowsRes) Output() anyvec.Vector {
	return s.Out
}

func (s *scaleRowsRes) Vars() anydiff.VarSet {
	return s.V
}

func (s *scaleRowsRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	if g.Intersects(s.Scales.Vars()) {
		prod := u.Copy()
		prod.Mul(s.In.Output())
		s.Scales.Propagate(anyvec.SumCols(prod, s.Scales.Output().Len()), g)
	}
	if g.Intersects(s.In.Vars()) {
		anyvec.ScaleChunks(u, s.Scales.Output())
		s.In.Propagate(u, g)
	}
}

// NormalizeRows scales every row of a row-major matrix to
// unit L2 norm.
// A tiny constant keeps all-zero rows finite.
func NormalizeRows(in anydiff.Res, rows int) anydiff.Res {
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()
		sq := anydiff.SumCols(&anydiff.Matrix{
			Data: anydiff.Square(in),
			Rows: rows,
			Cols: in.Output().Len() / rows,
		})
		invNorms := anydiff.Pow(anydiff.AddScalar(sq, c.MakeNumeric(1e-12)),
			c.MakeNumeric(-0.5))
		return ScaleRows(in, invNorms)
	})
}
