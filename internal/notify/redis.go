package notify

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis publishes and subscribes entity change events via redis pub/sub.
type Redis struct {
	client *redis.Client
}

var _ Publisher = (*Redis)(nil)

// NewRedis wraps an existing redis client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Publish sends the event on the project's channel. Delivery is fire and
// forget; a subscriber that misses it recovers through its delayed poll.
func (r *Redis) Publish(ctx context.Context, ev Event) error {
	raw, err := ev.encode()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, ChannelFor(ev.ProjectID), raw).Err(); err != nil {
		return err
	}
	log.Debug().Str("table", ev.Table).Str("entity_id", ev.EntityID).Str("status", ev.Status).Msg("published event")
	return nil
}

// Subscription is a live project-scoped event stream.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
	errs   chan error
}

// Subscribe opens a subscription for one project. The caller owns the
// returned subscription and must Close it.
func (r *Redis) Subscribe(ctx context.Context, projectID string) (*Subscription, error) {
	pubsub := r.client.Subscribe(ctx, ChannelFor(projectID))
	// Force the subscription onto the wire before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &Subscription{
		pubsub: pubsub,
		events: make(chan Event, 64),
		errs:   make(chan error, 1),
	}

	go func() {
		defer close(sub.events)
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					select {
					case sub.errs <- context.Canceled:
					default:
					}
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					log.Warn().Err(err).Msg("dropping malformed event")
					continue
				}
				select {
				case sub.events <- ev:
				default:
					// Slow consumer; the poll backstop corrects any drift.
					log.Warn().Str("entity_id", ev.EntityID).Msg("subscriber buffer full, dropping event")
				}
			}
		}
	}()

	return sub, nil
}

// Events yields decoded events until the subscription closes.
func (s *Subscription) Events() <-chan Event { return s.events }

// Errs reports a channel failure. Receivers should resync their full scope.
func (s *Subscription) Errs() <-chan error { return s.errs }

// Close tears down the underlying pub/sub connection.
func (s *Subscription) Close() error { return s.pubsub.Close() }
