package sink

import (
  "context"
  "fmt"
  "time"

  mqtt "github.com/eclipse/paho.mqtt.golang"
  "github.com/robertof/go-heartrate-monitor/device"
)

const mqttConnectTimeout = 10 * time.Second

type MQTTConfig struct {
  Broker   string `yaml:"broker"`
  ClientID string `yaml:"client_id" default:"heartrate-monitor"`
  Topic    string `yaml:"topic" default:"heartrate/reading"`
  QoS      byte   `yaml:"qos"`
  Retained bool   `yaml:"retained"`
}

type mqttClient interface {
  Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
  Disconnect(quiesce uint)
}

type MQTT struct {
  cfg    MQTTConfig
  client mqttClient
}

// NewMQTT connects to the broker. The client reconnects on its own afterwards.
func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
  if cfg.QoS > 2 {
    return nil, fmt.Errorf("invalid MQTT QoS %d", cfg.QoS)
  }

  opts := mqtt.NewClientOptions().
    AddBroker(cfg.Broker).
    SetClientID(cfg.ClientID).
    SetAutoReconnect(true).
    SetConnectRetry(true)

  client := mqtt.NewClient(opts)
  token := client.Connect()

  // on timeout the client keeps retrying in the background.
  if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
    return nil, fmt.Errorf("failed to connect to MQTT broker %q: %w", cfg.Broker, token.Error())
  }

  return newMQTT(cfg, client), nil
}

func newMQTT(cfg MQTTConfig, client mqttClient) *MQTT {
  return &MQTT{cfg: cfg, client: client}
}

func (m *MQTT) Name() string {
  return "mqtt"
}

func (m *MQTT) Send(ctx context.Context, r device.Reading) error {
  payload, err := encode(r)

  if err != nil {
    return err
  }

  token := m.client.Publish(m.cfg.Topic, m.cfg.QoS, m.cfg.Retained, payload)

  select {
  case <-ctx.Done():
    return ctx.Err()
  case <-token.Done():
  }

  if err := token.Error(); err != nil {
    return fmt.Errorf("failed to publish to %q: %w", m.cfg.Topic, err)
  }

  return nil
}

func (m *MQTT) Close() error {
  m.client.Disconnect(250)
  return nil
}
