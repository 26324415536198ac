package bus

import (
	"context"

	"github.com/triviaroyale/server/internal/v1/metrics"
	"github.com/triviaroyale/server/internal/v1/store"
)

// Publisher is the capability handed to anything that broadcasts into
// rooms: the round engine and the user registry hold one; neither
// knows who is subscribed.
type Publisher interface {
	PublishEvent(ctx context.Context, roomName string, ev Event) error
}

// StorePublisher publishes events onto the shared channel.
type StorePublisher struct {
	store   *store.Service
	channel string
}

// NewPublisher creates a Publisher over the shared store.
func NewPublisher(st *store.Service, channel string) *StorePublisher {
	return &StorePublisher{store: st, channel: channel}
}

// PublishEvent wraps the event in its envelope and publishes it.
func (p *StorePublisher) PublishEvent(ctx context.Context, roomName string, ev Event) error {
	data, err := Encode(roomName, ev)
	if err != nil {
		metrics.BusMessages.WithLabelValues(ev.EventType(), "encode_error").Inc()
		return err
	}
	if err := p.store.Publish(ctx, p.channel, data); err != nil {
		metrics.BusMessages.WithLabelValues(ev.EventType(), "publish_error").Inc()
		return err
	}
	metrics.BusMessages.WithLabelValues(ev.EventType(), "published").Inc()
	return nil
}
