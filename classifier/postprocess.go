package classifier

import (
	"sort"

	"github.com/chewxy/math32"
)

// Softmax returns the normalized exponentials of values.
func Softmax(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}

	peak := values[0]
	for _, v := range values[1:] {
		peak = math32.Max(peak, v)
	}

	out := make([]float32, len(values))
	var sum float32
	for i, v := range values {
		out[i] = math32.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// TopK returns the indices of the k largest values, largest first. Ties keep index order.
func TopK(values []float32, k int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] > values[idx[b]] })

	if k < len(idx) {
		idx = idx[:max(k, 0)]
	}
	return idx
}
