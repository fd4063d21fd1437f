package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// DeterministicEmbedder hashes byte 3-grams into a fixed-size vector and
// L2-normalizes the result. It serves as the "local" tier's test double
// and the default embedder in unit tests that don't exercise the HTTP
// tiers at all.
type DeterministicEmbedder struct {
	dim  int
	seed uint64
}

// NewDeterministic constructs a deterministic embedder of the given
// dimension (defaults to 64 if dim <= 0).
func NewDeterministic(dim int, seed uint64) *DeterministicEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &DeterministicEmbedder{dim: dim, seed: seed}
}

func (d *DeterministicEmbedder) Name() string      { return "deterministic-local" }
func (d *DeterministicEmbedder) Dimension() int     { return d.dim }
func (d *DeterministicEmbedder) Ping(_ context.Context) error { return nil }
func (d *DeterministicEmbedder) MaxBatchSize() int  { return 0 }

func (d *DeterministicEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = d.embedOne(t)
	}
	return out, nil
}

func (d *DeterministicEmbedder) embedOne(s string) []float32 {
	v := make([]float32, d.dim)
	b := []byte(s)
	if len(b) == 0 {
		return v
	}
	if len(b) < 3 {
		addGram(d.seed, b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			addGram(d.seed, b[i:i+3], v)
		}
	}
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		inv := float32(1.0 / math.Sqrt(sum))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

func addGram(seed uint64, gram []byte, v []float32) {
	h := fnv.New64a()
	if seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}

var _ Embedder = (*DeterministicEmbedder)(nil)
