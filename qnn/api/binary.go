package api

import (
	"unsafe"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownBinaryInfoVersion is returned for unrecognized binary info layouts.
	ErrUnknownBinaryInfoVersion = errors.New("unknown binary info version")
	// ErrUnknownGraphInfoVersion is returned for unrecognized graph info layouts.
	ErrUnknownGraphInfoVersion = errors.New("unknown graph info version")
	// ErrNullArray is returned when a record declares elements behind a nil array.
	ErrNullArray = errors.New("nil array with nonzero declared length")
)

// GraphInfo describes one graph produced by a model library.
type GraphInfo struct {
	Graph            GraphHandle
	GraphName        *byte
	InputTensors     []Tensor
	NumInputTensors  uint32
	OutputTensors    []Tensor
	NumOutputTensors uint32
}

// GraphsInfo is the array a model library returns from its compose entry point. Native
// carries the library's own pointer so it can be handed back to the paired free function.
type GraphsInfo struct {
	Graphs []GraphInfo
	Native unsafe.Pointer
}

// SystemGraphInfoVersion tags the layout of a graph description in a context binary.
type SystemGraphInfoVersion uint32

// SystemGraphInfoVersion1 is the only graph description layout the adapter reads.
const SystemGraphInfoVersion1 SystemGraphInfoVersion = 1

// SystemGraphInfoV1 describes one graph serialized in a context binary.
type SystemGraphInfoV1 struct {
	GraphName       *byte
	NumGraphInputs  uint32
	GraphInputs     []Tensor
	NumGraphOutputs uint32
	GraphOutputs    []Tensor
}

// SystemGraphInfo is a version tagged graph description.
type SystemGraphInfo struct {
	Version SystemGraphInfoVersion
	V1      SystemGraphInfoV1
}

// Resolve returns the v1 description, rejecting other versions.
func (g *SystemGraphInfo) Resolve() (*SystemGraphInfoV1, error) {
	switch g.Version {
	case SystemGraphInfoVersion1:
		return &g.V1, nil
	default:
		return nil, errors.Wrapf(ErrUnknownGraphInfoVersion, "version %d", uint32(g.Version))
	}
}

// Inputs returns the declared inputs after checking the array against its count.
func (g *SystemGraphInfoV1) Inputs() ([]Tensor, error) {
	return declared(g.GraphInputs, g.NumGraphInputs, "graph inputs")
}

// Outputs returns the declared outputs after checking the array against its count.
func (g *SystemGraphInfoV1) Outputs() ([]Tensor, error) {
	return declared(g.GraphOutputs, g.NumGraphOutputs, "graph outputs")
}

// BinaryInfoVersion tags the layout of a context binary description.
type BinaryInfoVersion uint32

// Known binary info layouts.
const (
	BinaryInfoVersion1 BinaryInfoVersion = 1
	BinaryInfoVersion2 BinaryInfoVersion = 2
)

// BinaryInfoV1 is the first context binary description layout.
type BinaryInfoV1 struct {
	BackendID      BackendID
	CoreAPIVersion Version
	NumGraphs      uint32
	Graphs         []SystemGraphInfo
}

// BinaryInfoV2 extends BinaryInfoV1 with the serialized context size.
type BinaryInfoV2 struct {
	BinaryInfoV1
	ContextBlobSize uint64
}

// BinaryInfo is a version tagged context binary description.
type BinaryInfo struct {
	Version BinaryInfoVersion
	V1      BinaryInfoV1
	V2      BinaryInfoV2
}

// GraphInfos returns the graph descriptions of the active layout. Unknown versions are read
// as v1 in Lenient mode and rejected in Strict mode.
func (b *BinaryInfo) GraphInfos(mode VersionMode) ([]SystemGraphInfo, error) {
	if b == nil {
		return nil, errors.New("nil binary info")
	}

	var base *BinaryInfoV1
	switch b.Version {
	case BinaryInfoVersion1:
		base = &b.V1
	case BinaryInfoVersion2:
		base = &b.V2.BinaryInfoV1
	default:
		if mode == Strict {
			return nil, errors.Wrapf(ErrUnknownBinaryInfoVersion, "version %d", uint32(b.Version))
		}
		base = &b.V1
	}

	return declared(base.Graphs, base.NumGraphs, "graphs")
}

func declared[T any](values []T, n uint32, what string) ([]T, error) {
	if n == 0 {
		return nil, nil
	}
	if values == nil {
		return nil, errors.Wrap(ErrNullArray, what)
	}
	if uint32(len(values)) < n {
		return nil, errors.Errorf("%s: %d declared, %d present", what, n, len(values))
	}
	return values[:n], nil
}
