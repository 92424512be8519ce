package redaction

import (
	"context"
	"errors"
	"log/slog"
)

// Orchestrator applies a Redactor to every string leaf of a decoded JSON
// payload, preserving the payload's shape and aggregating detections.
type Orchestrator struct {
	redactor    Redactor
	logger      *slog.Logger
	defaultLang Language
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

func WithDefaultLanguage(lang Language) Option {
	return func(o *Orchestrator) {
		o.defaultLang = lang
	}
}

func New(redactor Redactor, opts ...Option) (*Orchestrator, error) {
	if redactor == nil {
		return nil, errors.New("redactor is required")
	}

	o := &Orchestrator{
		redactor:    redactor,
		defaultLang: LanguageEnglish,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Process redacts every string leaf of payload, depth first. The language is
// read once from the payload's top-level "language" field and applied to the
// whole tree. A non-empty kinds subset restricts which detections are masked.
// On error the original payload must be used; no partially redacted tree is
// returned.
func (o *Orchestrator) Process(ctx context.Context, payload any, kinds []Kind) (any, Outcome, error) {
	lang := PayloadLanguage(payload, o.defaultLang)
	redacted, outcome, err := o.walk(ctx, payload, lang, kinds)
	if err != nil {
		return nil, Outcome{}, err
	}
	if outcome.Detected && o.logger != nil {
		o.logger.DebugContext(ctx, "sensitive spans masked",
			"count", outcome.Count,
			"kinds", outcome.KindStrings(),
		)
	}
	return redacted, outcome, nil
}

func (o *Orchestrator) walk(ctx context.Context, node any, lang Language, kinds []Kind) (any, Outcome, error) {
	var outcome Outcome

	switch v := node.(type) {
	case string:
		if v == "" {
			return v, outcome, nil
		}
		masked, entities, err := o.redactor.Redact(ctx, v, lang, kinds)
		if err != nil {
			return nil, Outcome{}, err
		}
		outcome.addEntities(entities)
		return masked, outcome, nil

	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			masked, childOutcome, err := o.walk(ctx, child, lang, kinds)
			if err != nil {
				return nil, Outcome{}, err
			}
			out[key] = masked
			outcome.Merge(childOutcome)
		}
		return out, outcome, nil

	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			masked, childOutcome, err := o.walk(ctx, child, lang, kinds)
			if err != nil {
				return nil, Outcome{}, err
			}
			out[i] = masked
			outcome.Merge(childOutcome)
		}
		return out, outcome, nil

	default:
		// Numbers, booleans and nulls carry no text to inspect.
		return node, outcome, nil
	}
}
