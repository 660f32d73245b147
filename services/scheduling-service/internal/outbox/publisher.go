package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/clinicore/scheduling/libs/db"
	"github.com/clinicore/scheduling/libs/kafkax"
	otelx "github.com/clinicore/scheduling/libs/otel"
	"github.com/clinicore/scheduling/services/scheduling-service/internal/metrics"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

type Publisher struct {
	db        db.DB
	repo      Repository
	writer    MessageWriter
	logger    *zap.Logger
	metrics   *metrics.Scheduling
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(conn db.DB, writer MessageWriter, logger *zap.Logger, m *metrics.Scheduling, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		db:        conn,
		writer:    writer,
		logger:    logger,
		metrics:   m,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls until ctx ends. Failed batches stay unpublished and are retried
// on the next tick.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	p.logger.Info("outbox publisher started", zap.Duration("poll_every", p.pollEvery))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.PublishBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				p.metrics.ObserveOutbox("failed", 1)
				p.logger.Error("outbox publish failed", zap.Error(err))
				continue
			}
			p.metrics.ObserveOutbox("published", n)
		}
	}
}

// PublishBatch ships one batch and reports how many events went out.
func (p *Publisher) PublishBatch(ctx context.Context) (int, error) {
	var published int
	err := db.InTx(ctx, p.db, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}

		msgs := make([]kafka.Message, 0, len(records))
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgCtx := otelx.ResumeTraceContext(ctx, otelx.TraceContext{Parent: r.Traceparent, State: r.Tracestate})
			headers := []kafka.Header{
				{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
				{Key: kafkax.HeaderEventType, Value: []byte(r.EventType)},
			}
			msgs = append(msgs, kafka.Message{
				Topic:   r.EventType,
				Key:     []byte(r.AggregateID),
				Value:   r.Payload,
				Headers: kafkax.InjectTraceHeaders(msgCtx, headers),
			})
			ids = append(ids, r.ID)
		}
		if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
			return err
		}
		if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		published = len(ids)
		return nil
	})
	return published, err
}
