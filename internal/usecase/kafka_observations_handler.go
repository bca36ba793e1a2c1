package usecase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	domrepo "github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/repository"
	pkgkafka "github.com/wijnaldum-eth/price-dashboard-ml/pkg/kafka"
)

// KafkaObservationsHandler consumes observation messages off the
// ingestion topic and writes them to the price store.
type KafkaObservationsHandler struct {
	topic   string
	store   domrepo.PriceStore
	metrics domrepo.Metrics
}

func NewKafkaObservationsHandler(topic string, store domrepo.PriceStore, metrics domrepo.Metrics) *KafkaObservationsHandler {
	return &KafkaObservationsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaObservationsHandler) Topic() string { return h.topic }

// message schema: {asset_id, ts (unix seconds or ms), price, volume_24h, market_cap, source}
func (h *KafkaObservationsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		AssetID   string   `json:"asset_id"`
		TS        int64    `json:"ts"`
		Price     float64  `json:"price"`
		Volume24h *float64 `json:"volume_24h"`
		MarketCap *float64 `json:"market_cap"`
		Source    string   `json:"source"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	if m.TS > 1e11 { // ms
		m.TS = m.TS / 1000
	}
	if m.Source == "" {
		m.Source = models.SourcePyth
	}

	stored, err := h.store.Record(ctx, models.PriceObservation{
		AssetID:   m.AssetID,
		Timestamp: time.Unix(m.TS, 0).UTC(),
		Price:     m.Price,
		Volume24h: m.Volume24h,
		MarketCap: m.MarketCap,
		Source:    m.Source,
	})
	if err != nil {
		h.metrics.RecordError("consumer_store")
		return err
	}
	if stored {
		h.metrics.RecordObservation(m.AssetID, m.Source)
	} else {
		h.metrics.RecordDuplicate(m.AssetID)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaObservationsHandler)(nil)
