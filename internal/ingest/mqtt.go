package ingest

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig describes the broker subscription feeding the gateway.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// MQTTIngester subscribes to sensor topics on an external broker and feeds
// every payload through the gateway.
type MQTTIngester struct {
	gateway *Gateway
	cfg     MQTTConfig
	client  mqtt.Client
	logger  *zap.Logger
}

// NewMQTTIngester creates a new MQTTIngester. Call Run to connect.
func NewMQTTIngester(gateway *Gateway, cfg MQTTConfig, logger *zap.Logger) *MQTTIngester {
	return &MQTTIngester{gateway: gateway, cfg: cfg, logger: logger}
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (m *MQTTIngester) Run(ctx context.Context) error {
	clientID := m.cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("telemetry-relay-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(m.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
		opts.SetPassword(m.cfg.Password)
	}

	// Resubscribe on every (re)connect; the broker forgets non-persistent sessions.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handleMessage)
		token.Wait()
		if err := token.Error(); err != nil {
			m.logger.Error("mqtt subscribe failed", zap.String("topic", m.cfg.Topic), zap.Error(err))
			return
		}
		m.logger.Info("mqtt subscribed",
			zap.String("broker", m.cfg.Broker),
			zap.String("topic", m.cfg.Topic),
		)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	select {
	case <-ctx.Done():
		m.client.Disconnect(250)
		return ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker: %w", err)
	}

	<-ctx.Done()
	m.logger.Info("mqtt ingester stopping")
	m.client.Disconnect(250)
	return nil
}

func (m *MQTTIngester) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	source := "mqtt:" + msg.Topic()
	if _, err := m.gateway.IngestPayload(context.Background(), source, msg.Payload()); err != nil {
		m.logger.Debug("mqtt payload dropped",
			zap.String("topic", msg.Topic()),
			zap.Error(err),
		)
	}
}
