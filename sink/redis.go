package sink

import (
  "context"
  "fmt"
  "time"

  "github.com/redis/go-redis/v9"
  "github.com/robertof/go-heartrate-monitor/device"
)

type RedisConfig struct {
  Addr    string        `yaml:"addr"`
  Channel string        `yaml:"channel" default:"heartrate"`
  Key     string        `yaml:"key" default:"heartrate:latest"`
  TTL     time.Duration `yaml:"ttl" default:"30s"`
}

type redisClient interface {
  Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
  Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
  Close() error
}

// Redis publishes every reading on a channel and keeps the latest one under a key which
// expires when readings stop flowing.
type Redis struct {
  cfg    RedisConfig
  client redisClient
}

func NewRedis(cfg RedisConfig) *Redis {
  return newRedis(cfg, redis.NewClient(&redis.Options{
    Addr: cfg.Addr,
  }))
}

func newRedis(cfg RedisConfig, client redisClient) *Redis {
  return &Redis{cfg: cfg, client: client}
}

func (r *Redis) Name() string {
  return "redis"
}

func (r *Redis) Send(ctx context.Context, reading device.Reading) error {
  payload, err := encode(reading)

  if err != nil {
    return err
  }

  if err := r.client.Publish(ctx, r.cfg.Channel, payload).Err(); err != nil {
    return fmt.Errorf("failed to publish on %q: %w", r.cfg.Channel, err)
  }

  if r.cfg.Key == "" {
    return nil
  }

  if err := r.client.Set(ctx, r.cfg.Key, payload, r.cfg.TTL).Err(); err != nil {
    return fmt.Errorf("failed to set %q: %w", r.cfg.Key, err)
  }

  return nil
}

func (r *Redis) Close() error {
  return r.client.Close()
}
