package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/LeventeLantos/sms-tracker/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes events on a pub/sub channel and keeps the latest
// event per instance under "status:<instanceId>" so late subscribers can
// catch up.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
	ttl     time.Duration
}

func NewRedisNotifier(rdb *redis.Client, channel string, ttl time.Duration) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel, ttl: ttl}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev model.StatusEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	pipe := n.rdb.TxPipeline()
	pipe.Set(ctx, "status:"+ev.InstanceID, b, n.ttl)
	pipe.Publish(ctx, n.channel, b)
	_, err = pipe.Exec(ctx)
	return err
}
