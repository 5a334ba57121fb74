package vectorstore

import (
	"context"
	"hash/fnv"
	"math"
)

// deterministicEmbedder hashes byte 3-grams into a fixed-size vector. It needs
// no model or network call, so it backs the in-memory store and any test that
// exercises KnowledgeStore without a real embedding provider.
type deterministicEmbedder struct {
	dim       int
	normalize bool
	seed      uint64
}

// NewDeterministicEmbedder constructs a hash-based Embedder of the given
// dimension. If normalize is true, vectors are L2-normalized; seed perturbs
// the hash so two embedders with different seeds never collide.
func NewDeterministicEmbedder(dim int, normalize bool, seed uint64) Embedder {
	if dim <= 0 {
		dim = 64
	}
	return &deterministicEmbedder{dim: dim, normalize: normalize, seed: seed}
}

func (d *deterministicEmbedder) Dimensions() int { return d.dim }

func (d *deterministicEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, d.dim)
	b := []byte(text)
	if len(b) == 0 {
		return v, nil
	}
	if len(b) < 3 {
		d.addGram(b, v)
	} else {
		for i := 0; i <= len(b)-3; i++ {
			d.addGram(b[i:i+3], v)
		}
	}
	if d.normalize {
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
	}
	return v, nil
}

func (d *deterministicEmbedder) addGram(gram []byte, v []float32) {
	h := fnv.New64a()
	if d.seed != 0 {
		var tmp [8]byte
		for i := 0; i < 8; i++ {
			tmp[i] = byte(d.seed >> (8 * i))
		}
		_, _ = h.Write(tmp[:])
	}
	_, _ = h.Write(gram)
	hv := h.Sum64()
	idx := int(hv % uint64(len(v)))
	w := float32(int32(hv>>32)) / float32(1<<31)
	v[idx] += w
}
