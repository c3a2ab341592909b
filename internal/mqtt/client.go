package mqtt

import (
	"fmt"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/config"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// Client owns the broker connection. Subscriber and Publisher share it.
type Client struct {
	client paho.Client
	logger *zap.Logger
}

func NewClient(cfg config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(paho.Client) {
		logger.Info("MQTT connection established", zap.String("broker", cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})
	opts.SetDefaultPublishHandler(func(_ paho.Client, msg paho.Message) {
		logger.Debug("MQTT message on unhandled topic", zap.String("topic", msg.Topic()))
	})

	client := paho.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// Native returns the underlying paho client
func (c *Client) Native() paho.Client {
	return c.client
}

func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("MQTT client disconnected")
}
