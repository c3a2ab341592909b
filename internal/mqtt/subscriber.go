package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"
	"github.com/lomolisso/esn-cloud-api/pkg/utils"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const enqueueTimeout = time.Second

// Subscriber decodes sensor data exports published by gateways and queues
// them for the export workers.
type Subscriber struct {
	client  paho.Client
	topic   string
	exports chan<- *domain.SensorDataExport
	logger  *zap.Logger

	// guards exports against a send after Stop closed it
	mu     sync.RWMutex
	closed bool
}

// NewSubscriber subscribes to topic, e.g. "gateway/+/export/sensor-data".
// The second topic level names the gateway when the payload omits it.
func NewSubscriber(client paho.Client, topic string, exports chan<- *domain.SensorDataExport, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		client:  client,
		topic:   topic,
		exports: exports,
		logger:  logger,
	}
}

func (s *Subscriber) Subscribe() error {
	token := s.client.Subscribe(s.topic, 1, s.handleExport)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.topic, token.Error())
	}
	s.logger.Info("Subscribed to export topic", zap.String("topic", s.topic))
	return nil
}

func (s *Subscriber) Unsubscribe() {
	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		s.logger.Warn("Failed to unsubscribe", zap.String("topic", s.topic), zap.Error(token.Error()))
	}
}

// Stop unsubscribes and closes the export queue once no handler is sending,
// so workers drain what was queued and exit. Messages arriving afterwards
// are dropped.
func (s *Subscriber) Stop() {
	s.Unsubscribe()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.exports)
	}
}

func (s *Subscriber) handleExport(_ paho.Client, msg paho.Message) {
	var export domain.SensorDataExport
	if err := json.Unmarshal(msg.Payload(), &export); err != nil {
		metrics.WorkerExportsDropped.Inc()
		s.logger.Error("Error unmarshaling export", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}

	if export.Metadata.GatewayName == "" {
		export.Metadata.GatewayName = utils.TopicSegment(msg.Topic(), 1)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		metrics.WorkerExportsDropped.Inc()
		s.logger.Warn("Export queue closed, dropping message",
			zap.String("gateway", export.Metadata.GatewayName),
			zap.String("sensor", export.Metadata.SensorName))
		return
	}

	select {
	case s.exports <- &export:
	case <-time.After(enqueueTimeout):
		metrics.WorkerExportsDropped.Inc()
		s.logger.Warn("Export channel full, dropping message",
			zap.String("gateway", export.Metadata.GatewayName),
			zap.String("sensor", export.Metadata.SensorName))
	}
}
