// Package feed publishes profitable opportunities to a Redis channel so
// downstream consumers (alerting, dashboards) see them without polling
// the scan API.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ARB4ME/arb4me-unified-sub000/internal/evaluator"
	"github.com/ARB4ME/arb4me-unified-sub000/internal/infra/metrics"
)

// Publisher is the opportunity fan-out. The zero-value Noop publisher is
// used when Redis is not configured.
type Publisher interface {
	PublishOpportunities(ctx context.Context, exchange string, opps []evaluator.Opportunity)
	Close()
}

type Noop struct{}

func (Noop) PublishOpportunities(context.Context, string, []evaluator.Opportunity) {}
func (Noop) Close()                                                                {}

type message struct {
	Exchange    string                `json:"exchange"`
	Opportunity evaluator.Opportunity `json:"opportunity"`
	PublishedAt time.Time             `json:"published_at"`
}

// Redis publishes one message per profitable opportunity. Publishing is
// fire-and-forget: a broker outage is logged and counted, never
// propagated, because the scan result is already on its way to the
// caller.
type Redis struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewRedis(ctx context.Context, addr, password string, db int, channel string, logger zerolog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Info().Str("addr", addr).Str("channel", channel).Msg("opportunity feed connected")
	return &Redis{client: client, channel: channel, logger: logger}, nil
}

func (r *Redis) PublishOpportunities(ctx context.Context, exchange string, opps []evaluator.Opportunity) {
	now := time.Now().UTC()
	for _, opp := range opps {
		if !opp.Profitable {
			continue
		}
		payload, err := json.Marshal(message{Exchange: exchange, Opportunity: opp, PublishedAt: now})
		if err != nil {
			continue
		}
		if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
			metrics.FeedPublishErrors.Inc()
			r.logger.Warn().Err(err).Str("path", opp.PathID).Msg("opportunity publish failed")
		}
	}
}

func (r *Redis) Close() { _ = r.client.Close() }
