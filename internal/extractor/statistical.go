package extractor

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/jdkato/prose/v2"
)

// proseLabelToType maps prose's NER labels to NexusMem's closed entity-type
// set. prose labels people "PERSON", organizations "ORG", and places "GPE"
// (geo-political entity) or "LOC"; anything else falls back to "concept".
var proseLabelToType = map[string]string{
	"PERSON": "person",
	"ORG":    "organization",
	"GPE":    "location",
	"LOC":    "location",
}

// Statistical is the [Extractor] variant backed by prose.v2's document
// tokenizer and named-entity model. If it fails to process a document (the
// model is only ever absent at the Go-API level when prose itself panics
// recovers to an error — prose ships its model data embedded, so this is
// rare in practice) it automatically falls back to a [Regex] pass for that
// call and marks itself degraded.
type Statistical struct {
	fallback *Regex
	degraded atomic.Bool
}

// NewStatistical constructs a [Statistical] extractor with its [Regex]
// fallback pre-built.
func NewStatistical() *Statistical {
	return &Statistical{fallback: NewRegex()}
}

// Extract implements [Extractor]. Entity confidence is derived from the
// POS-tag certainty prose reports via its probabilistic tagger: an entity
// whose head token carries a proper-noun tag (NNP/NNPS) is scored higher
// than one recovered only from the NER pass over common-noun text.
func (s *Statistical) Extract(ctx context.Context, text string) (Result, error) {
	doc, err := prose.NewDocument(text)
	if err != nil {
		s.degraded.Store(true)
		return s.fallback.Extract(ctx, text)
	}

	properNouns := make(map[string]bool)
	for _, tok := range doc.Tokens() {
		if strings.HasPrefix(tok.Tag, "NNP") {
			properNouns[tok.Text] = true
		}
	}

	seen := make(map[string]bool)
	var entities []Entity
	for _, ent := range doc.Entities() {
		name := strings.TrimSpace(ent.Text)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		etype, known := proseLabelToType[ent.Label]
		if !known {
			etype = "concept"
		}

		confidence := 0.65
		for _, w := range strings.Fields(name) {
			if properNouns[w] {
				confidence = 0.85
				break
			}
		}

		start := strings.Index(text, name)
		end := start + len(name)
		if start < 0 {
			start, end = 0, 0
		}
		entities = append(entities, Entity{
			Name:       name,
			Type:       etype,
			Confidence: confidence,
			Start:      start,
			End:        end,
		})
	}

	if len(entities) == 0 {
		// prose found no named entities at all (common for short or
		// informal text); the regex pass still recovers capitalized spans.
		return s.fallback.Extract(ctx, text)
	}

	return Result{
		Entities:      entities,
		Relationships: buildRelationships(text, entities),
	}, nil
}

// HealthCheck implements [Extractor]. Once a call to Extract has failed to
// produce a document and fallen back, HealthCheck reports degraded for the
// remainder of the process lifetime — prose's failure mode is data-level,
// not transient, so there is nothing to recover from without a restart.
func (s *Statistical) HealthCheck(_ context.Context) Health {
	if s.degraded.Load() {
		return Health{Status: "degraded", Fallback: "regex"}
	}
	return Health{Status: "healthy"}
}
