// Package redaction walks structured payloads and masks sensitive spans in
// string leaves, delegating span detection to an external capability.
package redaction

import (
	"context"
	"sort"
)

// Language selects the entity recognizer's model for a whole payload.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageItalian Language = "it"
)

// ParseLanguage maps a raw tag to a supported language, defaulting to English.
func ParseLanguage(raw string) Language {
	switch Language(raw) {
	case LanguageItalian:
		return LanguageItalian
	default:
		return LanguageEnglish
	}
}

// PayloadLanguage extracts the language tag from a payload when it is a
// mapping carrying a recognizable "language" field. The field selects the
// language for the entire payload, not per subtree.
func PayloadLanguage(payload any, fallback Language) Language {
	m, ok := payload.(map[string]any)
	if !ok {
		return fallback
	}
	raw, ok := m["language"].(string)
	if !ok {
		return fallback
	}
	return ParseLanguage(raw)
}

// Kind categorizes a sensitive span.
type Kind string

const (
	KindEmail        Kind = "EMAIL_ADDRESS"
	KindPhone        Kind = "PHONE_NUMBER"
	KindPerson       Kind = "PERSON"
	KindCreditCard   Kind = "CREDIT_CARD"
	KindIPAddress    Kind = "IP_ADDRESS"
	KindLocation     Kind = "LOCATION"
	KindIBAN         Kind = "IBAN_CODE"
	KindURL          Kind = "URL"
	KindITFiscalCode Kind = "IT_FISCAL_CODE"
	KindITVATCode    Kind = "IT_VAT_CODE"
)

// Entity is one detected sensitive span. Text holds the raw span for audit
// and diagnostics only; it must never reach a non-privileged caller.
type Entity struct {
	Kind  Kind
	Start int
	End   int
	Score float64
	Text  string
}

// Detector finds sensitive spans in text. Positions are byte offsets,
// non-overlapping and within bounds of the input.
type Detector interface {
	Detect(ctx context.Context, text string, lang Language) ([]Entity, error)
}

// Redactor replaces sensitive spans with fixed labels. A non-empty kinds
// subset restricts which detections are replaced and reported; detection
// itself always runs over all supported kinds first.
type Redactor interface {
	Redact(ctx context.Context, text string, lang Language, kinds []Kind) (string, []Entity, error)
}

// Outcome aggregates detections across a payload tree.
type Outcome struct {
	Detected bool
	kinds    map[Kind]struct{}
	Count    int
}

// Merge folds a child outcome into o. OR for detected, SUM for counts, UNION
// for kinds: associative and commutative, so traversal order never affects
// the final aggregate.
func (o *Outcome) Merge(child Outcome) {
	if !child.Detected {
		return
	}
	o.Detected = true
	o.Count += child.Count
	if o.kinds == nil {
		o.kinds = make(map[Kind]struct{})
	}
	for k := range child.kinds {
		o.kinds[k] = struct{}{}
	}
}

// addEntities records leaf-level detections.
func (o *Outcome) addEntities(entities []Entity) {
	if len(entities) == 0 {
		return
	}
	o.Detected = true
	o.Count += len(entities)
	if o.kinds == nil {
		o.kinds = make(map[Kind]struct{})
	}
	for _, e := range entities {
		o.kinds[e.Kind] = struct{}{}
	}
}

// Kinds returns the distinct detected kinds, sorted for stable output.
func (o Outcome) Kinds() []Kind {
	if len(o.kinds) == 0 {
		return nil
	}
	out := make([]Kind, 0, len(o.kinds))
	for k := range o.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// KindStrings returns Kinds as plain strings for audit records.
func (o Outcome) KindStrings() []string {
	kinds := o.Kinds()
	if kinds == nil {
		return nil
	}
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
