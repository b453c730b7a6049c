package api

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBinaryInfoDispatch(t *testing.T) {
	graphs := []SystemGraphInfo{{Version: SystemGraphInfoVersion1, V1: SystemGraphInfoV1{GraphName: cstr("g0")}}}

	v1 := BinaryInfo{Version: BinaryInfoVersion1, V1: BinaryInfoV1{NumGraphs: 1, Graphs: graphs}}
	got, err := v1.GraphInfos(Strict)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	v2 := BinaryInfo{Version: BinaryInfoVersion2, V2: BinaryInfoV2{BinaryInfoV1: BinaryInfoV1{NumGraphs: 1, Graphs: graphs}}}
	got, err = v2.GraphInfos(Strict)
	require.NoError(t, err)
	assert.Equal(t, "g0", goString(got[0].V1.GraphName))

	unknown := BinaryInfo{Version: 7, V1: BinaryInfoV1{NumGraphs: 1, Graphs: graphs}}
	_, err = unknown.GraphInfos(Strict)
	assert.True(t, errors.Is(err, ErrUnknownBinaryInfoVersion))
	got, err = unknown.GraphInfos(Lenient)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestBinaryInfoNullArrays(t *testing.T) {
	info := BinaryInfo{Version: BinaryInfoVersion1, V1: BinaryInfoV1{NumGraphs: 2}}
	_, err := info.GraphInfos(Lenient)
	assert.True(t, errors.Is(err, ErrNullArray))

	short := BinaryInfo{Version: BinaryInfoVersion1, V1: BinaryInfoV1{NumGraphs: 2, Graphs: make([]SystemGraphInfo, 1)}}
	_, err = short.GraphInfos(Lenient)
	assert.Error(t, err)

	g := SystemGraphInfoV1{NumGraphInputs: 1}
	_, err = g.Inputs()
	assert.True(t, errors.Is(err, ErrNullArray))
	outputs, err := g.Outputs()
	require.NoError(t, err)
	assert.Nil(t, outputs)
}

func TestSystemGraphInfoVersion(t *testing.T) {
	g := SystemGraphInfo{Version: 3}
	_, err := g.Resolve()
	assert.True(t, errors.Is(err, ErrUnknownGraphInfoVersion))
}

func TestVersionCompatible(t *testing.T) {
	required := Version{Major: 2, Minor: 14}
	assert.True(t, Version{Major: 2, Minor: 14}.Compatible(required))
	assert.True(t, Version{Major: 2, Minor: 20}.Compatible(required))
	assert.False(t, Version{Major: 2, Minor: 13}.Compatible(required))
	assert.False(t, Version{Major: 3, Minor: 14}.Compatible(required))
	assert.Equal(t, "2.14.0", required.String())
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("graphFinalize", Success))
	err := Check("graphFinalize", GraphErrorGeneral)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, GraphErrorGeneral, se.Code)
	assert.Contains(t, err.Error(), "graphFinalize")
}

func TestTerminated(t *testing.T) {
	c := &GraphConfig{}
	assert.True(t, Terminated([]*GraphConfig{c, nil}))
	assert.False(t, Terminated([]*GraphConfig{c}))
	assert.False(t, Terminated[GraphConfig](nil))
}
