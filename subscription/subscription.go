package subscription

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/puneet2715/taskmanager-sub000/domain"
)

const resubscribeDelay = time.Second

// SubscribeUpdates listens on channel and emits every valid envelope to the
// project it names. It resubscribes when the channel closes and returns when
// ctx is done.
func SubscribeUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, channel string, emitter Emitter) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
		logger.WithField("channel", channel).Info("subscribed to project events")
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				n, err := Dispatch(ctx, emitter, []byte(msg.Payload))
				if err != nil {
					logger.WithError(err).WithField("channel", channel).Error("unable to dispatch project event")
					continue
				}
				logger.WithFields(log.Fields{"channel": channel, "delivered": n}).Debug("project event dispatched")
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

// RedisPublisher publishes board changes to a Redis channel so every gateway
// instance subscribed to it can deliver them.
type RedisPublisher struct {
	rc      *redis.Client
	channel string
}

func NewRedisPublisher(rc *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{rc: rc, channel: channel}
}

// EmitToProject publishes ev and returns the number of subscribers that
// received it.
func (p *RedisPublisher) EmitToProject(ctx context.Context, projectID string, ev domain.Event) (int, error) {
	payload, err := EncodeEnvelope(projectID, ev)
	if err != nil {
		return 0, err
	}
	n, err := p.rc.Publish(ctx, p.channel, payload).Result()
	return int(n), err
}
