package llm

import (
	"fmt"
	"math"

	"github.com/markdave123-py/kbase/internal/core"
)

// fitDimensions shortens vec to want values and re-normalizes it, which is
// valid for Matryoshka-trained embedding models. A vector shorter than want
// cannot be fixed.
func fitDimensions(vec []float32, want int) ([]float32, error) {
	switch {
	case want <= 0 || len(vec) == want:
		return vec, nil
	case len(vec) < want:
		return nil, fmt.Errorf("%w: %w: model returned %d values, want %d",
			core.ErrEmbeddingFatal, core.ErrDimensionMismatch, len(vec), want)
	}

	out := make([]float32, want)
	copy(out, vec[:want])
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return out, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= scale
	}
	return out, nil
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}
