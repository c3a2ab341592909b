package mqtt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/pkg/utils"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Publisher emits prediction events after successful exports
type Publisher struct {
	client paho.Client
	topic  string
	logger *zap.Logger
}

// NewPublisher takes a topic pattern with {gateway} and {sensor} placeholders
func NewPublisher(client paho.Client, topic string, logger *zap.Logger) *Publisher {
	return &Publisher{
		client: client,
		topic:  topic,
		logger: logger,
	}
}

func (p *Publisher) PublishPrediction(ctx context.Context, event domain.PredictionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction event: %w", err)
	}

	topic := utils.FormatTopic(p.topic, event.GatewayName, event.SensorName)

	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish prediction event: %w", err)
	}

	p.logger.Debug("Published prediction event",
		zap.String("topic", topic),
		zap.String("reading_uuid", event.ReadingUUID))
	return nil
}
