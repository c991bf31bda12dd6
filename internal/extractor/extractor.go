// Package extractor implements NexusMem's EntityExtractor contract: given a
// memory's text content, return the entities mentioned in it and the
// relationships plausibly connecting them.
//
// Two variants are provided: [Statistical], which wraps
// github.com/jdkato/prose/v2 for POS-tag/NER-style detection, and [Regex], a
// dependency-free sliding-window matcher over capitalized multi-word spans
// used both as the default and as the automatic fallback when Statistical
// fails to initialize (its [Extractor.HealthCheck] then reports degraded
// with "fallback": "regex").
package extractor

import (
	"context"
	"strings"
)

// Entity is a single named thing detected in a piece of text.
type Entity struct {
	// Name is the entity's surface form as it appeared in the text.
	Name string

	// Type classifies the entity. One of the closed set: person,
	// organization, location, product, technology, concept, event, other.
	Type string

	// Confidence is the extractor's certainty in [0,1].
	Confidence float64

	// Start and End are the byte offsets of the entity's span within the
	// source text.
	Start, End int
}

// Relationship is a candidate edge inferred between two co-occurring
// entities within a sliding window of the source text.
type Relationship struct {
	// Source and Target are entity names (not yet resolved to graph node
	// ids — that resolution happens in the graph-sync pipeline).
	Source, Target string

	// Type is one of the closed relationship-type set (see the HTTP API
	// documentation). Defaults to "relates_to" when no pattern matches.
	Type string

	// Strength is 1 - distance/window, clamped to [0,1]: closer
	// co-occurrences produce a stronger candidate edge.
	Strength float64
}

// Result is the output of a single [Extractor.Extract] call.
type Result struct {
	Entities      []Entity
	Relationships []Relationship
}

// Health reports an extractor's operating status.
type Health struct {
	// Status is "healthy" or "degraded".
	Status string

	// Fallback names the variant actually serving requests when it differs
	// from the one requested (e.g. "regex" when Statistical failed to
	// initialize).
	Fallback string
}

// Extractor is the EntityExtractor contract. Implementations must be safe
// for concurrent use.
type Extractor interface {
	// Extract returns the entities and candidate relationships found in
	// text. It must respect ctx cancellation but typically completes
	// in-process without I/O.
	Extract(ctx context.Context, text string) (Result, error)

	// HealthCheck reports whether the extractor is operating in its primary
	// mode or has degraded to a fallback.
	HealthCheck(ctx context.Context) Health
}

// window is the sliding-window size (in characters) used to infer
// co-occurrence relationships.
const window = 200

// relationshipType chooses a relationship type label by scanning the text
// between two entity spans for a small set of pattern phrases. Defaults to
// "relates_to" when nothing matches.
func relationshipType(between string) string {
	lower := strings.ToLower(between)
	has := func(substrs ...string) bool {
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
	switch {
	case has("works at", "works for", "employed by"):
		return "works_at"
	case has("uses", "integrates with", "built with"):
		return "uses"
	case has("develops", "created", "built"):
		return "develops"
	case has("leads", "manages", "heads"):
		return "leads"
	case has("located in", "based in", "headquartered in"):
		return "located_in"
	case has("owns", "acquired"):
		return "owns"
	case has("invests in", "funded"):
		return "invests_in"
	case has("competes with", "rival"):
		return "competes_with"
	case has("affiliated with", "partner"):
		return "affiliated_with"
	case has("mentions", "mentioned"):
		return "mentions"
	default:
		return "relates_to"
	}
}

// buildRelationships pairs every entity within [window] characters of one
// another and assigns a type and distance-decayed strength.
func buildRelationships(text string, entities []Entity) []Relationship {
	var rels []Relationship
	for i := range entities {
		for j := i + 1; j < len(entities); j++ {
			a, b := entities[i], entities[j]
			dist := b.Start - a.End
			if dist < 0 {
				dist = a.Start - b.End
			}
			if dist > window {
				continue
			}
			strength := 1 - float64(dist)/float64(window)
			if strength < 0 {
				strength = 0
			}
			if strength > 1 {
				strength = 1
			}
			lo, hi := a.End, b.Start
			if hi < lo {
				lo, hi = b.End, a.Start
			}
			between := ""
			if lo >= 0 && hi <= len(text) && lo <= hi {
				between = text[lo:hi]
			}
			rels = append(rels, Relationship{
				Source:   a.Name,
				Target:   b.Name,
				Type:     relationshipType(between),
				Strength: strength,
			})
		}
	}
	return rels
}

// New constructs the configured [Extractor] variant. kind selects
// "statistical" (backed by [NewStatistical], degrading to regex
// automatically per call) or "regex" ([NewRegex]); any other value
// (including "") defaults to regex.
func New(kind string) Extractor {
	if kind == "statistical" {
		return NewStatistical()
	}
	return NewRegex()
}
