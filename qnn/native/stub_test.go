//go:build !(linux && qnn)

package native

import (
	"testing"

	"github.com/nvr-ai/edgerunner/qnn/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnavailable(t *testing.T) {
	assert.False(t, Available)

	loader, err := NewLoader()
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, loader)
	assert.Same(t, memory.Default, Allocator())
}
