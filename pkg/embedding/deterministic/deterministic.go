// Package deterministic provides an embeddings.Provider that derives vectors
// from a SHA-256 hash of the input text instead of calling a model. It is
// useful for tests and for offline/air-gapped deployments that need stable,
// reproducible embeddings without a network dependency.
//
// Two calls with identical text always produce identical vectors; there is
// no notion of semantic similarity: texts that differ at all produce
// unrelated vectors.
package deterministic

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"

	embeddings "github.com/vonbase/nexusmem/pkg/embedding"
)

// DefaultDimensions matches the OpenAI text-embedding-3-small width so the
// provider can be dropped in for primary storage without a schema change.
const DefaultDimensions = 1536

// Provider implements embeddings.Provider by seeding a PRNG from the
// SHA-256 digest of the input text and drawing a unit-norm vector from it.
type Provider struct {
	dimensions int
	modelID    string
}

var _ embeddings.Provider = (*Provider)(nil)

// New constructs a deterministic Provider producing vectors of the given
// dimensionality. If dimensions <= 0, DefaultDimensions is used.
func New(dimensions int) *Provider {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Provider{dimensions: dimensions, modelID: "deterministic-hash-v1"}
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return vectorFromText(text, p.dimensions), nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorFromText(t, p.dimensions)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.modelID }

// HealthCheck implements embeddings.Provider; a hash-based provider has no
// backend to probe and is always healthy.
func (p *Provider) HealthCheck(ctx context.Context) embeddings.Health {
	return embeddings.Health{Status: "healthy"}
}

// vectorFromText seeds a PRNG from text's SHA-256 digest and draws a
// unit-norm vector of the given width.
func vectorFromText(text string, dimensions int) []float32 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float32, dimensions)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
