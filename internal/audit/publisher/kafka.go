// Package publisher streams audit records to Kafka for downstream
// compliance consumers. Delivery is best effort: failures are logged and
// never surfaced to the request path.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mercmorandi/security-governance-gatekeeper/internal/audit"
	"github.com/mercmorandi/security-governance-gatekeeper/internal/platform/kafka"
)

type Kafka struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

type Option func(*Kafka)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Kafka) {
		p.logger = logger
	}
}

func NewKafka(producer *kafka.Producer, opts ...Option) *Kafka {
	p := &Kafka{producer: producer}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends the record keyed by user so one subject's records stay
// ordered within a partition.
func (p *Kafka) Publish(ctx context.Context, record audit.Record) {
	payload, err := json.Marshal(record)
	if err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "marshal audit record", "record_id", record.ID, "error", err)
		}
		return
	}

	p.producer.Produce(ctx, []byte(record.UserID), payload, func(err error) {
		if err != nil && p.logger != nil {
			p.logger.ErrorContext(ctx, "publish audit record",
				"record_id", record.ID,
				"error", err,
			)
		}
	})
}
