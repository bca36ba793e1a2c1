package usecase

import (
	"context"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	applogger "github.com/wijnaldum-eth/price-dashboard-ml/pkg/logger"
)

// QuoteCollector consumes the live quote stream and forwards
// observations to the ingestion bus, falling back to direct storage
// when no bus is configured.
type QuoteCollector struct {
	stream    domrepo.QuoteStream
	publisher domrepo.ObservationPublisher
	store     domrepo.PriceStore
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

func NewQuoteCollector(stream domrepo.QuoteStream, publisher domrepo.ObservationPublisher, store domrepo.PriceStore, metrics domrepo.Metrics, l *applogger.Logger) *QuoteCollector {
	if l == nil {
		l = applogger.Nop()
	}
	return &QuoteCollector{stream: stream, publisher: publisher, store: store, metrics: metrics, l: l}
}

func (c *QuoteCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	quotes, errs := c.stream.Read(ctx)
	go c.consume(ctx, quotes, errs)
	return nil
}

func (c *QuoteCollector) consume(ctx context.Context, quotes <-chan *models.Quote, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			if err != nil {
				c.metrics.RecordError("stream")
				if rerr := c.stream.Reconnect(ctx); rerr != nil {
					c.l.Error("stream reconnect failed", applogger.Error(rerr))
				}
			}
		case q := <-quotes:
			if q == nil {
				continue
			}
			c.handleQuote(ctx, q)
		}
	}
}

func (c *QuoteCollector) handleQuote(ctx context.Context, q *models.Quote) {
	obs := models.PriceObservation{
		AssetID:   q.AssetID,
		Timestamp: q.AsOf,
		Price:     q.Price,
		Source:    models.SourcePyth,
	}

	if c.publisher != nil {
		if err := c.publisher.Publish(ctx, obs); err != nil {
			c.metrics.RecordError("publish")
			c.l.Error("observation publish failed",
				applogger.String("asset", obs.AssetID),
				applogger.Error(err),
			)
		}
	} else {
		stored, err := c.store.Record(ctx, obs)
		if err != nil {
			c.metrics.RecordError("store")
			return
		}
		if stored {
			c.metrics.RecordObservation(obs.AssetID, obs.Source)
		} else {
			c.metrics.RecordDuplicate(obs.AssetID)
		}
	}
	c.metrics.RecordLastPrice(q.AssetID, q.Price)
}

func (c *QuoteCollector) Shutdown(ctx context.Context) error {
	if c.publisher != nil {
		_ = c.publisher.Close()
	}
	return c.stream.Close()
}
