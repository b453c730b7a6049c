package qnn

import (
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/pkg/errors"
)

// TensorSpec owns the heap fields of one tensor record: its name, dimensions, dynamic
// dimension flags and per-channel scale-offset array. Release frees them in that order and
// clears the record's pointers. Records produced by a model library are never wrapped in a
// TensorSpec; only copies this package made are.
type TensorSpec struct {
	rec          *api.Tensor
	name         memory.Owned
	dims         memory.Owned
	dynamicDims  memory.Owned
	scaleOffsets memory.Owned
}

// DeepCopy copies src into dst, duplicating every heap field with alloc. dst is written only
// when the whole copy succeeds; on failure everything allocated so far is freed.
//
// Arguments:
//   - alloc: The heap the copy is allocated from.
//   - dst: The record to publish the copy into.
//   - src: A record this package does not own.
//   - mode: How to treat unknown version tags.
//
// Returns:
//   - *TensorSpec: The owner of the copy's heap fields.
//   - error: api.ErrNullArray for nil arrays with a declared length, allocation errors,
//     or a version error in strict mode.
func DeepCopy(alloc memory.Allocator, dst, src *api.Tensor, mode api.VersionMode) (*TensorSpec, error) {
	if dst == nil {
		return nil, errors.New("deep copy: nil destination")
	}
	in, err := api.Resolve(src, mode)
	if err != nil {
		return nil, errors.Wrap(err, "deep copy")
	}

	rec := api.TensorInit(src.Version)
	out := api.Adapt(&rec)
	spec := &TensorSpec{rec: dst}

	name, owner, err := memory.StrDup(alloc, in.NamePtr())
	if err != nil {
		return nil, spec.abort(err, "name")
	}
	spec.name = owner
	out.SetNamePtr(name)

	out.SetID(in.ID())
	out.SetType(in.Type())
	out.SetDataFormat(in.DataFormat())
	out.SetDataType(in.DataType())

	q, owner, err := copyQuantizeParams(alloc, in.QuantizeParams())
	if err != nil {
		return nil, spec.abort(err, "quantize params")
	}
	spec.scaleOffsets = owner
	out.SetQuantizeParams(q)

	out.SetRank(in.Rank())
	dims, owner, err := memory.CopyArray(alloc, in.DimensionsPtr(), int(in.Rank()))
	if err != nil {
		return nil, spec.abort(err, "dimensions")
	}
	spec.dims = owner
	out.SetDimensionsPtr(dims)

	if in.DynamicDimensionsPtr() != nil {
		flags, owner, err := memory.CopyArray(alloc, in.DynamicDimensionsPtr(), int(in.Rank()))
		if err != nil {
			return nil, spec.abort(err, "dynamic dimensions")
		}
		spec.dynamicDims = owner
		out.SetDynamicDimensionsPtr(flags)
	}
	out.SetSparseParams(in.SparseParams())

	*dst = rec
	return spec, nil
}

func copyQuantizeParams(alloc memory.Allocator, src api.QuantizeParams) (api.QuantizeParams, memory.Owned, error) {
	q := api.QuantizeParams{
		EncodingDefinition:   src.EncodingDefinition,
		QuantizationEncoding: api.QuantizationEncodingUndefined,
	}

	switch src.QuantizationEncoding {
	case api.QuantizationEncodingScaleOffset:
		q.QuantizationEncoding = src.QuantizationEncoding
		q.ScaleOffsetEncoding = src.ScaleOffsetEncoding
	case api.QuantizationEncodingAxisScaleOffset:
		axis := src.AxisScaleOffsetEncoding
		q.QuantizationEncoding = src.QuantizationEncoding
		q.AxisScaleOffsetEncoding.Axis = axis.Axis
		q.AxisScaleOffsetEncoding.NumScaleOffsets = axis.NumScaleOffsets

		pairs, owner, err := memory.CopyArray(alloc, axis.ScaleOffset, int(axis.NumScaleOffsets))
		if err != nil {
			return api.QuantizeParams{}, memory.Owned{}, err
		}
		q.AxisScaleOffsetEncoding.ScaleOffset = pairs
		return q, owner, nil
	}

	return q, memory.Owned{}, nil
}

func (s *TensorSpec) abort(err error, field string) error {
	s.free()
	if errors.Is(err, memory.ErrNilSource) {
		err = api.ErrNullArray
	}
	return errors.Wrapf(err, "deep copy %s", field)
}

func (s *TensorSpec) free() {
	s.name.Release()
	s.dims.Release()
	s.dynamicDims.Release()
	s.scaleOffsets.Release()
}

// Tensor returns the record this spec owns fields of.
func (s *TensorSpec) Tensor() *api.Tensor { return s.rec }

// Release frees the owned fields and clears the record's pointers to them. It is safe to
// call more than once.
func (s *TensorSpec) Release() {
	if s == nil {
		return
	}
	s.free()
	if s.rec == nil {
		return
	}

	v := api.Adapt(s.rec)
	v.SetNamePtr(nil)
	v.SetDimensionsPtr(nil)
	v.SetDynamicDimensionsPtr(nil)
	q := v.QuantizeParams()
	q.AxisScaleOffsetEncoding.ScaleOffset = nil
	v.SetQuantizeParams(q)
	s.rec = nil
}
