package sink

import (
  "context"
  "fmt"

  "github.com/robertof/go-heartrate-monitor/device"
  "github.com/segmentio/kafka-go"
)

var kafkaKey = []byte("heart_rate")

type KafkaConfig struct {
  Brokers []string `yaml:"brokers"`
  Topic   string   `yaml:"topic" default:"heartrate.readings"`
}

type kafkaWriter interface {
  WriteMessages(ctx context.Context, msgs ...kafka.Message) error
  Close() error
}

type Kafka struct {
  cfg    KafkaConfig
  writer kafkaWriter
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
  if len(cfg.Brokers) == 0 {
    return nil, fmt.Errorf("at least one Kafka broker is required")
  }

  return newKafka(cfg, &kafka.Writer{
    Addr:         kafka.TCP(cfg.Brokers...),
    Topic:        cfg.Topic,
    Balancer:     &kafka.Hash{},
    RequiredAcks: kafka.RequireOne,
  }), nil
}

func newKafka(cfg KafkaConfig, w kafkaWriter) *Kafka {
  return &Kafka{cfg: cfg, writer: w}
}

func (k *Kafka) Name() string {
  return "kafka"
}

func (k *Kafka) Send(ctx context.Context, r device.Reading) error {
  payload, err := encode(r)

  if err != nil {
    return err
  }

  err = k.writer.WriteMessages(ctx, kafka.Message{
    Key:   kafkaKey,
    Value: payload,
    Time:  r.Timestamp,
  })

  if err != nil {
    return fmt.Errorf("failed to write to topic %q: %w", k.cfg.Topic, err)
  }

  return nil
}

func (k *Kafka) Close() error {
  return k.writer.Close()
}
