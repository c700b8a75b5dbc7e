package sim

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

// MQTTSink publishes reports as JSON to a broker topic the relay subscribes to.
type MQTTSink struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// DialMQTT connects to broker and returns a sink publishing on topic.
func DialMQTT(ctx context.Context, broker, topic string, qos byte) (*MQTTSink, error) {
	clientID := fmt.Sprintf("telemetry-sim-%d", time.Now().UnixNano())
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to mqtt broker: %w", err)
	}
	return &MQTTSink{client: client, topic: topic, qos: qos}, nil
}

func (s *MQTTSink) Send(ctx context.Context, r state.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	token := s.client.Publish(s.topic, s.qos, false, data)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
	}
	return token.Error()
}

func (s *MQTTSink) Close() {
	s.client.Disconnect(250)
}
