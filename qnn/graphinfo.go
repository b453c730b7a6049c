package qnn

import (
	"github.com/nvr-ai/edgerunner/qnn/api"
	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/pkg/errors"
)

// Ownership records who frees the metadata of a GraphSet. It is either LibraryOwned or
// *SelfOwned.
type Ownership interface {
	ownership()
}

// LibraryOwned metadata was built by a model library and is handed back to the library's
// free entry point.
type LibraryOwned struct {
	Free api.FreeGraphsInfoFn
	Info *api.GraphsInfo
}

// SelfOwned metadata was copied out of a context binary. Every heap field of every record is
// owned by one of Specs, and every graph name by one of Names.
type SelfOwned struct {
	Specs []*TensorSpec
	Names []memory.Owned
}

func (LibraryOwned) ownership() {}
func (*SelfOwned) ownership()   {}

// GraphSet is the graph metadata of one context together with its ownership.
type GraphSet struct {
	graphs   []api.GraphInfo
	owner    Ownership
	released bool
}

// NewLibraryGraphSet wraps the result of a compose entry point.
func NewLibraryGraphSet(info *api.GraphsInfo, free api.FreeGraphsInfoFn) (*GraphSet, error) {
	set := &GraphSet{owner: LibraryOwned{Free: free, Info: info}}
	if info == nil || len(info.Graphs) == 0 {
		if err := set.Release(); err != nil {
			return nil, errors.Wrap(ErrNoGraphs, err.Error())
		}
		return nil, ErrNoGraphs
	}
	set.graphs = info.Graphs
	return set, nil
}

// CopyGraphMetadata deep copies the graph descriptions of a context binary so they outlive
// the system context that produced them. Either every graph is copied or nothing is kept.
//
// Arguments:
//   - alloc: The heap the copies are allocated from.
//   - info: The binary description returned by the system library.
//   - mode: How to treat unknown version tags.
//
// Returns:
//   - *GraphSet: A self-owned set with one entry per graph.
//   - error: ErrNoGraphs, api.ErrNullArray, a version error or an allocation error.
func CopyGraphMetadata(alloc memory.Allocator, info *api.BinaryInfo, mode api.VersionMode) (*GraphSet, error) {
	described, err := info.GraphInfos(mode)
	if err != nil {
		return nil, errors.Wrap(err, "copy graph metadata")
	}
	if len(described) == 0 {
		return nil, ErrNoGraphs
	}

	owner := &SelfOwned{}
	set := &GraphSet{graphs: make([]api.GraphInfo, len(described)), owner: owner}

	for i := range described {
		g, err := described[i].Resolve()
		if err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "graph %d", i)
		}

		name, nameOwner, err := memory.StrDup(alloc, g.GraphName)
		if err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "graph %d name", i)
		}
		owner.Names = append(owner.Names, nameOwner)

		inputs, err := g.Inputs()
		if err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "graph %d", i)
		}
		outputs, err := g.Outputs()
		if err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "graph %d", i)
		}

		dst := &set.graphs[i]
		dst.GraphName = name
		dst.InputTensors = make([]api.Tensor, len(inputs))
		dst.NumInputTensors = uint32(len(inputs))
		dst.OutputTensors = make([]api.Tensor, len(outputs))
		dst.NumOutputTensors = uint32(len(outputs))

		if err := owner.copyTensors(alloc, dst.InputTensors, inputs, mode); err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "graph %d input", i)
		}
		if err := owner.copyTensors(alloc, dst.OutputTensors, outputs, mode); err != nil {
			set.Release()
			return nil, errors.Wrapf(err, "graph %d output", i)
		}
	}

	return set, nil
}

func (o *SelfOwned) copyTensors(alloc memory.Allocator, dst, src []api.Tensor, mode api.VersionMode) error {
	for j := range src {
		spec, err := DeepCopy(alloc, &dst[j], &src[j], mode)
		if err != nil {
			return errors.Wrapf(err, "tensor %d", j)
		}
		o.Specs = append(o.Specs, spec)
	}
	return nil
}

// Len returns the number of graphs.
func (s *GraphSet) Len() int { return len(s.graphs) }

// Graph returns graph i, or nil when i is out of range.
func (s *GraphSet) Graph(i int) *api.GraphInfo {
	if i < 0 || i >= len(s.graphs) {
		return nil
	}
	return &s.graphs[i]
}

// Owner returns the ownership variant of the set.
func (s *GraphSet) Owner() Ownership { return s.owner }

// Release frees the metadata through its owner. Later calls are no-ops.
func (s *GraphSet) Release() error {
	if s == nil || s.released {
		return nil
	}
	s.released = true
	s.graphs = nil

	switch o := s.owner.(type) {
	case LibraryOwned:
		if o.Free == nil || o.Info == nil {
			return nil
		}
		if rc := o.Free(o.Info); rc != api.GraphNoError {
			return errors.Errorf("free graphs info failed with status %d", int(rc))
		}
	case *SelfOwned:
		for _, spec := range o.Specs {
			spec.Release()
		}
		for i := range o.Names {
			o.Names[i].Release()
		}
		o.Specs = nil
		o.Names = nil
	}
	return nil
}
