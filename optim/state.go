package optim

import (
	"github.com/pkg/errors"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/serializer"
)

// A slot is one piece of per-parameter Transformer state,
// such as a velocity or a moment estimate.
// A nil slot means no step has been taken yet.
type slot anydiff.Grad

// encode saves the slot in parameter order, tagged with
// its name so that state cannot be restored into the
// wrong kind of Transformer.
func (s slot) encode(name string, params []*anydiff.Var) ([]byte, error) {
	if s == nil {
		return serializer.SerializeAny(name, serializer.Int(0), serializer.Bytes(nil))
	}
	if len(s) != len(params) {
		return nil, errors.Errorf("encode %s: %d entries for %d parameters", name, len(s),
			len(params))
	}
	vecs := make([]interface{}, len(params))
	for i, p := range params {
		vec, ok := s[p]
		if !ok {
			return nil, errors.Errorf("encode %s: no entry for parameter %d", name, i)
		}
		vecs[i] = &anyvecsave.S{Vector: vec}
	}
	data, err := serializer.SerializeAny(vecs...)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", name)
	}
	return serializer.SerializeAny(name, serializer.Int(len(params)), serializer.Bytes(data))
}

// decodeSlot restores a slot saved by encode, checking
// that every vector still fits its parameter.
func decodeSlot(name string, params []*anydiff.Var, data []byte) (slot, error) {
	var savedName string
	var count serializer.Int
	var vecData serializer.Bytes
	if err := serializer.DeserializeAny(data, &savedName, &count, &vecData); err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	if savedName != name {
		return nil, errors.Errorf("decode %s: saved state is %s", name, savedName)
	}
	if count == 0 {
		return nil, nil
	}
	if int(count) != len(params) {
		return nil, errors.Errorf("decode %s: %d vectors for %d parameters", name, count,
			len(params))
	}

	dests := make([]interface{}, len(params))
	for i := range dests {
		dests[i] = new(*anyvecsave.S)
	}
	if err := serializer.DeserializeAny(vecData, dests...); err != nil {
		return nil, errors.Wrapf(err, "decode %s", name)
	}
	res := slot{}
	for i, p := range params {
		vec := (*dests[i].(**anyvecsave.S)).Vector
		if vec.Len() != p.Vector.Len() {
			return nil, errors.Errorf("decode %s: parameter %d has size %d, saved %d", name, i,
				p.Vector.Len(), vec.Len())
		} else if vec.Creator() != p.Vector.Creator() {
			return nil, errors.Errorf("decode %s: parameter %d has another creator", name, i)
		}
		res[p] = vec
	}
	return res, nil
}
