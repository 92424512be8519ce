// Package detector provides a pattern-based entity recognizer. It is the
// in-process fallback for deployments without an external analyzer service
// and the deterministic engine used by the test suites.
package detector

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/redaction"
)

// Label returned in place of each masked span, keyed by kind. Labels contain
// no digits and no listed given names, so re-running the engine over masked
// text detects nothing: redaction is idempotent.
var labels = map[redaction.Kind]string{
	redaction.KindEmail:        "[REDACTED_EMAIL]",
	redaction.KindPhone:        "[REDACTED_PHONE]",
	redaction.KindPerson:       "[REDACTED_NAME]",
	redaction.KindCreditCard:   "[REDACTED_CARD]",
	redaction.KindIPAddress:    "[REDACTED_IP]",
	redaction.KindLocation:     "[REDACTED_LOCATION]",
	redaction.KindIBAN:         "[REDACTED_IBAN]",
	redaction.KindURL:          "[REDACTED_URL]",
	redaction.KindITFiscalCode: "[REDACTED_CODICE_FISCALE]",
	redaction.KindITVATCode:    "[REDACTED_PARTITA_IVA]",
}

// Label returns the replacement text for a kind.
func Label(kind redaction.Kind) string {
	if l, ok := labels[kind]; ok {
		return l
	}
	return "[REDACTED]"
}

type pattern struct {
	kind  redaction.Kind
	re    *regexp.Regexp
	score float64
	// italianOnly patterns run only under the Italian recognizer.
	italianOnly bool
}

// Patterns are ordered by precedence: when two spans overlap, the earlier
// pattern's span wins. Structured identifiers outrank looser numeric
// patterns so a fiscal code is never half-claimed as a phone number.
var patterns = []pattern{
	{
		kind:  redaction.KindEmail,
		re:    regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		score: 1.0,
	},
	{
		kind:  redaction.KindURL,
		re:    regexp.MustCompile(`https?://[^\s"'<>]+`),
		score: 1.0,
	},
	{
		kind:  redaction.KindIBAN,
		re:    regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`),
		score: 0.9,
	},
	{
		kind:        redaction.KindITFiscalCode,
		re:          regexp.MustCompile(`\b[A-Z]{6}\d{2}[A-Z]\d{2}[A-Z]\d{3}[A-Z]\b`),
		score:       0.95,
		italianOnly: true,
	},
	{
		kind:        redaction.KindITVATCode,
		re:          regexp.MustCompile(`\bIT\s?\d{11}\b`),
		score:       0.9,
		italianOnly: true,
	},
	{
		kind:  redaction.KindCreditCard,
		re:    regexp.MustCompile(`\b(?:\d{4}[ \-]){3}\d{4}\b`),
		score: 0.9,
	},
	{
		kind:  redaction.KindIPAddress,
		re:    regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		score: 0.85,
	},
	{
		kind:  redaction.KindPhone,
		re:    regexp.MustCompile(`\+\d{1,3}[ .\-]?\(?\d{1,4}\)?[ .\-]?\d{3,4}[ .\-]?\d{3,4}|\(\d{3}\)[ ]?\d{3}[.\-]\d{4}|\b\d{3}[.\-]\d{3}[.\-]\d{4}\b`),
		score: 0.8,
	},
	{
		kind:  redaction.KindLocation,
		re:    regexp.MustCompile(`\b\d{1,5} [A-Z][a-z]+(?: [A-Z][a-z]+)? (?:Street|Avenue|Road|Boulevard|Lane|Drive)\b|\b[Vv]ia [A-Z][a-z]+(?: [A-Z][a-z]+)? \d{1,5}\b`),
		score: 0.7,
	},
	{
		kind:  redaction.KindPerson,
		re:    personPattern(),
		score: 0.75,
	},
}

// Known given names anchor person detection. A bare surname is too ambiguous
// for a pattern engine, so only "<given> <Capitalized>" pairs are claimed.
var givenNames = []string{
	"Alice", "Anna", "Bob", "Carla", "David", "Emma", "Francesca", "Giulia",
	"Giuseppe", "James", "Jane", "John", "Laura", "Luca", "Marco", "Maria",
	"Mario", "Mary", "Michael", "Paolo", "Robert", "Sara", "Sarah", "Sofia",
}

func personPattern() *regexp.Regexp {
	return regexp.MustCompile(`\b(?:` + strings.Join(givenNames, "|") + `) [A-Z][a-z]+\b`)
}

// Engine detects and masks sensitive spans with fixed patterns. Safe for
// concurrent use; all state is immutable after construction.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Detect returns non-overlapping spans sorted by start offset. Overlaps are
// resolved by pattern precedence.
func (e *Engine) Detect(_ context.Context, text string, lang redaction.Language) ([]redaction.Entity, error) {
	var kept []redaction.Entity
	for _, p := range patterns {
		if p.italianOnly && lang != redaction.LanguageItalian {
			continue
		}
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if overlapsAny(kept, loc[0], loc[1]) {
				continue
			}
			kept = append(kept, redaction.Entity{
				Kind:  p.kind,
				Start: loc[0],
				End:   loc[1],
				Score: p.score,
				Text:  text[loc[0]:loc[1]],
			})
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept, nil
}

// Redact masks detected spans with their kind labels. Detection always runs
// over every supported kind; a non-empty kinds subset only filters which
// detections are masked and reported.
func (e *Engine) Redact(ctx context.Context, text string, lang redaction.Language, kinds []redaction.Kind) (string, []redaction.Entity, error) {
	entities, err := e.Detect(ctx, text, lang)
	if err != nil {
		return "", nil, err
	}
	entities = filterKinds(entities, kinds)
	if len(entities) == 0 {
		return text, nil, nil
	}

	// Replace back to front so earlier offsets stay valid.
	masked := text
	for i := len(entities) - 1; i >= 0; i-- {
		ent := entities[i]
		masked = masked[:ent.Start] + Label(ent.Kind) + masked[ent.End:]
	}
	return masked, entities, nil
}

func filterKinds(entities []redaction.Entity, kinds []redaction.Kind) []redaction.Entity {
	if len(kinds) == 0 {
		return entities
	}
	allowed := make(map[redaction.Kind]struct{}, len(kinds))
	for _, k := range kinds {
		allowed[k] = struct{}{}
	}
	out := entities[:0]
	for _, ent := range entities {
		if _, ok := allowed[ent.Kind]; ok {
			out = append(out, ent)
		}
	}
	return out
}

func overlapsAny(entities []redaction.Entity, start, end int) bool {
	for _, ent := range entities {
		if start < ent.End && end > ent.Start {
			return true
		}
	}
	return false
}
