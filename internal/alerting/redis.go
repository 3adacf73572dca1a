package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisPublisher 将告警发布到 Redis pub/sub 频道, 供下游消费。
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  zerolog.Logger
}

type redisPayload struct {
	Account      string    `json:"account"`
	SentLamports int64     `json:"sent_lamports"`
	SentSOL      string    `json:"sent_sol"`
	Slot         uint64    `json:"slot,omitempty"`
	ObservedAt   time.Time `json:"observed_at"`
	ExplorerURL  string    `json:"explorer_url,omitempty"`
	Text         string    `json:"text"`
}

// NewRedisPublisher 构造 Redis 告警发布器。
func NewRedisPublisher(client redis.UniversalClient, channel string, logger zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With().Str("component", "alert_redis").Logger(),
	}
}

// Notify 以 JSON 形式发布告警。
func (p *RedisPublisher) Notify(ctx context.Context, alert Alert) error {
	if p.channel == "" {
		return fmt.Errorf("redis alert channel is not configured")
	}

	data, err := json.Marshal(redisPayload{
		Account:      alert.Account,
		SentLamports: alert.SentLamports,
		SentSOL:      alert.SentSOL(),
		Slot:         alert.Slot,
		ObservedAt:   alert.ObservedAt,
		ExplorerURL:  alert.ExplorerURL,
		Text:         RenderMessage(alert),
	})
	if err != nil {
		return fmt.Errorf("marshal redis payload: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("redis PUBLISH %s: %w", p.channel, err)
	}

	p.logger.Info().Str("account", alert.Account).
		Int64("receivers", receivers).
		Msg("告警已发布 (Redis)")
	return nil
}

var _ Notifier = (*RedisPublisher)(nil)
