package extractor

import (
	"context"
	"regexp"
	"strings"
)

// capitalizedSpan matches a run of two or more capitalized words (allowing
// an internal lowercase connector like "of"/"the") — the classic
// dependency-free proxy for a proper-noun entity span.
var capitalizedSpan = regexp.MustCompile(`\b([A-Z][\w&.'-]*(?:\s+(?:[A-Z][\w&.'-]*|of|the|and|de|van))*\s+[A-Z][\w&.'-]*)\b`)

// singleCapitalized matches a single capitalized word at least 3 runes
// long, used to catch one-word entities like "Python" or "OpenAI" that the
// multi-word pattern misses.
var singleCapitalized = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9&.'-]{2,}\b`)

// stopWords are common sentence-leading capitalized words that are not
// entities on their own.
var stopWords = map[string]bool{
	"The": true, "This": true, "That": true, "These": true, "Those": true,
	"It": true, "A": true, "An": true, "In": true, "On": true, "At": true,
	"I": true, "We": true, "They": true, "He": true, "She": true,
}

// Regex is the dependency-free [Extractor] variant: it matches capitalized
// multi-word spans as entity candidates and infers relationships from
// co-occurrence within the sliding window. It never fails to initialize and
// is used both as the default and as [Statistical]'s fallback.
type Regex struct{}

// NewRegex constructs a [Regex] extractor. It has no state and no
// initialization that can fail.
func NewRegex() *Regex { return &Regex{} }

// Extract implements [Extractor].
func (r *Regex) Extract(_ context.Context, text string) (Result, error) {
	entities := r.findEntities(text)
	return Result{
		Entities:      entities,
		Relationships: buildRelationships(text, entities),
	}, nil
}

// HealthCheck implements [Extractor]; Regex is always healthy.
func (r *Regex) HealthCheck(_ context.Context) Health {
	return Health{Status: "healthy"}
}

func (r *Regex) findEntities(text string) []Entity {
	seen := make(map[string]bool)
	var out []Entity

	for _, loc := range capitalizedSpan.FindAllStringIndex(text, -1) {
		name := strings.TrimSpace(text[loc[0]:loc[1]])
		if name == "" || stopWords[name] || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, Entity{
			Name:       name,
			Type:       classify(name),
			Confidence: 0.6,
			Start:      loc[0],
			End:        loc[1],
		})
	}

	for _, loc := range singleCapitalized.FindAllStringIndex(text, -1) {
		name := text[loc[0]:loc[1]]
		if stopWords[name] || seen[name] {
			continue
		}
		// Skip names already covered by a multi-word span at this offset.
		covered := false
		for _, e := range out {
			if loc[0] >= e.Start && loc[1] <= e.End {
				covered = true
				break
			}
		}
		if covered {
			continue
		}
		seen[name] = true
		out = append(out, Entity{
			Name:       name,
			Type:       classify(name),
			Confidence: 0.4,
			Start:      loc[0],
			End:        loc[1],
		})
	}

	return out
}

// orgSuffixes and locationHints are small closed lists used to bias
// [classify]'s guess; an unmatched two-word name is guessed "person" and
// anything else unmatched defaults to "concept".
var orgSuffixes = []string{"Inc", "Corp", "Corporation", "LLC", "Ltd", "Enterprises", "Labs", "Group"}
var locationHints = []string{"City", "Street", "Avenue", "County", "Island", "Mountain", "River"}

// classify makes a best-effort guess at an entity's type from its surface
// form alone. The statistical extractor overrides this with POS/NER-derived
// types when available.
func classify(name string) string {
	for _, suf := range orgSuffixes {
		if strings.HasSuffix(name, suf) {
			return "organization"
		}
	}
	for _, hint := range locationHints {
		if strings.Contains(name, hint) {
			return "location"
		}
	}
	words := strings.Fields(name)
	if len(words) == 2 {
		// Two capitalized words with no other signal is the common shape of
		// a person's full name.
		return "person"
	}
	return "concept"
}
