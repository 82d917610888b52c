// Package events is the in-process fan-out of cache invalidations. Views
// that hold exam or result lists subscribe and refresh the named collections.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/rs/zerolog"
	"github.com/stemsi/examprep/internal/logger"
	"github.com/stemsi/examprep/internal/model"
)

// TopicInvalidations carries model.Invalidation payloads.
const TopicInvalidations = "invalidations"

const subscriberBuffer = 64

// Bus publishes and delivers invalidations between components of one process.
type Bus struct {
	pubsub *gochannel.GoChannel
	log    zerolog.Logger
}

// NewBus creates a Bus backed by a watermill Go channel pub/sub.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: subscriberBuffer,
		}, logger.NewWatermillAdapter(log)),
		log: log.With().Str("component", "event_bus").Logger(),
	}
}

// PublishInvalidation implements session.Publisher.
func (b *Bus) PublishInvalidation(ctx context.Context, inv model.Invalidation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("exam_id", inv.ExamID.String())

	if err := b.pubsub.Publish(TopicInvalidations, msg); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe returns invalidations published from now on. The channel closes
// when ctx is done or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan model.Invalidation, error) {
	msgs, err := b.pubsub.Subscribe(ctx, TopicInvalidations)
	if err != nil {
		return nil, fmt.Errorf("subscribe invalidations: %w", err)
	}

	out := make(chan model.Invalidation, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range msgs {
			var inv model.Invalidation
			if err := json.Unmarshal(msg.Payload, &inv); err != nil {
				b.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("Dropping malformed invalidation")
				msg.Ack()
				continue
			}
			select {
			case out <- inv:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and closes every subscription.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
