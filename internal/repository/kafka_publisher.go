package repository

import (
	"context"

	"github.com/wijnaldum-eth/price-dashboard-ml/internal/domain/models"
	pkgkafka "github.com/wijnaldum-eth/price-dashboard-ml/pkg/kafka"
)

// KafkaObservationPublisher pushes observations onto the ingestion
// topic, keyed by asset so per-asset ordering survives partitioning.
type KafkaObservationPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaObservationPublisher(producer *pkgkafka.Producer, topic string) *KafkaObservationPublisher {
	return &KafkaObservationPublisher{producer: producer, topic: topic}
}

func (p *KafkaObservationPublisher) Publish(ctx context.Context, obs models.PriceObservation) error {
	msg := map[string]any{
		"asset_id": obs.AssetID,
		"ts":       obs.Timestamp.UTC().Unix(),
		"price":    obs.Price,
		"source":   obs.Source,
	}
	if obs.Volume24h != nil {
		msg["volume_24h"] = *obs.Volume24h
	}
	if obs.MarketCap != nil {
		msg["market_cap"] = *obs.MarketCap
	}
	return p.producer.Publish(ctx, p.topic, []byte(obs.AssetID), msg)
}

func (p *KafkaObservationPublisher) Close() error {
	return p.producer.Close()
}
