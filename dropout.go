package fewshot

import (
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var d Dropout
	serializer.RegisterTypedDeserializer(d.SerializerType(), DeserializeDropout)
}

// A Dropout layer zeroes each input with probability
// DropProb while training and scales the survivors by
// 1/(1-DropProb), so inference is the identity.
//
// Like BatchNorm, a Dropout starts in inference mode.
type Dropout struct {
	DropProb float64
	Training bool
}

// NewDropout creates a Dropout in inference mode.
func NewDropout(dropProb float64) *Dropout {
	return &Dropout{DropProb: dropProb}
}

// DeserializeDropout deserializes a Dropout.
// The result is in inference mode.
func DeserializeDropout(d []byte) (*Dropout, error) {
	var dropProb serializer.Float64
	if err := serializer.DeserializeAny(d, &dropProb); err != nil {
		return nil, essentials.AddCtx("deserialize Dropout", err)
	}
	return &Dropout{DropProb: float64(dropProb)}, nil
}

// Apply applies the layer.
func (d *Dropout) Apply(in anydiff.Res, n int) anydiff.Res {
	if !d.Training || d.DropProb == 0 {
		return in
	}
	c := in.Output().Creator()
	keep := 1 - d.DropProb
	mask := c.MakeVector(in.Output().Len())
	anyvec.Rand(mask, anyvec.Uniform, nil)
	anyvec.LessThan(mask, c.MakeNumeric(keep))
	mask.Scale(c.MakeNumeric(1 / keep))
	return anydiff.Mul(in, anydiff.NewConst(mask))
}

// SerializerType returns the unique ID used to serialize
// a Dropout with the serializer package.
func (d *Dropout) SerializerType() string {
	return "github.com/qinzhengmei/MABAS.Dropout"
}

// Serialize serializes the Dropout.
func (d *Dropout) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Float64(d.DropProb))
}
