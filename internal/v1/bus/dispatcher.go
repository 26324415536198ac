package bus

import (
	"context"

	"go.uber.org/zap"

	"github.com/triviaroyale/server/internal/v1/logging"
	"github.com/triviaroyale/server/internal/v1/metrics"
	"github.com/triviaroyale/server/internal/v1/store"
)

// RoomBroadcaster delivers a payload to every client locally joined to
// a room. Implemented by the transport hub.
type RoomBroadcaster interface {
	Broadcast(roomName string, payload []byte)
}

// Dispatcher is this replica's single subscriber on the shared
// channel. It demultiplexes every broadcast to the clients connected
// here, regardless of which replica published it.
type Dispatcher struct {
	store       *store.Service
	channel     string
	broadcaster RoomBroadcaster
}

// NewDispatcher creates a Dispatcher over the shared store.
func NewDispatcher(st *store.Service, channel string, broadcaster RoomBroadcaster) *Dispatcher {
	return &Dispatcher{store: st, channel: channel, broadcaster: broadcaster}
}

// Run consumes the subscription until ctx is cancelled. Malformed
// messages are logged and dropped; they never affect other messages.
//
// Each delivery runs in its own goroutine, so delivery order across
// different messages is not guaranteed. Order within one game's phases
// is preserved by the engine's inter-phase sleeps, not by the bus.
func (d *Dispatcher) Run(ctx context.Context) {
	msgs := d.store.Subscribe(ctx, d.channel)

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				logging.Warn(ctx, "bus subscription closed", zap.String("channel", d.channel))
				return
			}
			d.dispatch(ctx, raw)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, raw []byte) {
	roomName, eventType, payload, err := Decode(raw)
	if err != nil {
		logging.Warn(ctx, "dropping bus message", zap.Error(err))
		metrics.BusMessages.WithLabelValues("unknown", "dropped").Inc()
		return
	}

	metrics.BusMessages.WithLabelValues(eventType, "delivered").Inc()

	// Fire-and-forget; a slow room must not stall the subscription.
	go d.broadcaster.Broadcast(roomName, payload)
}
