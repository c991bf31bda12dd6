package deterministic_test

import (
	"context"
	"math"
	"testing"

	"github.com/vonbase/nexusmem/pkg/embedding/deterministic"
)

func TestNew_DefaultDimensions(t *testing.T) {
	p := deterministic.New(0)
	if p.Dimensions() != deterministic.DefaultDimensions {
		t.Errorf("Dimensions() = %d, want %d", p.Dimensions(), deterministic.DefaultDimensions)
	}
}

func TestEmbed_Deterministic(t *testing.T) {
	p := deterministic.New(32)
	a, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("len(a) = %d, want 32", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors for identical text diverge at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestEmbed_DistinctTextsDiffer(t *testing.T) {
	p := deterministic.New(32)
	a, _ := p.Embed(context.Background(), "alpha")
	b, _ := p.Embed(context.Background(), "beta")
	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Error("distinct texts produced identical embeddings")
	}
}

func TestEmbed_UnitNorm(t *testing.T) {
	p := deterministic.New(128)
	vec, err := p.Embed(context.Background(), "normalize me")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1.0) > 1e-3 {
		t.Errorf("||vec|| = %v, want ~1.0", norm)
	}
}

func TestEmbedBatch_MatchesEmbed(t *testing.T) {
	p := deterministic.New(16)
	texts := []string{"one", "two", "three"}
	batch, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(batch) != len(texts) {
		t.Fatalf("len(batch) = %d, want %d", len(batch), len(texts))
	}
	for i, text := range texts {
		single, _ := p.Embed(context.Background(), text)
		for j := range single {
			if single[j] != batch[i][j] {
				t.Errorf("EmbedBatch[%d][%d] = %v, want %v (from Embed)", i, j, batch[i][j], single[j])
			}
		}
	}
}

func TestModelID(t *testing.T) {
	p := deterministic.New(8)
	if p.ModelID() == "" {
		t.Error("ModelID() returned empty string")
	}
}
