// Package events fans domain events out to in-process subscribers over
// asaskevich/EventBus. Handlers run synchronously on the publisher's
// goroutine and must not block.
package events

import (
	"context"
	"fmt"

	evbus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"

	"ecocert/internal/domain"
)

// Handler receives one published event.
type Handler func(ctx context.Context, e domain.Event)

type Bus struct {
	bus evbus.Bus
	log *zap.Logger
}

func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{bus: evbus.New(), log: log}
}

// Publish implements ports.EventPublisher.
func (b *Bus) Publish(ctx context.Context, e domain.Event) {
	if !b.bus.HasCallback(string(e.Type)) {
		return
	}
	b.bus.Publish(string(e.Type), ctx, e)
}

func (b *Bus) Subscribe(t domain.EventType, h Handler) error {
	if err := b.bus.Subscribe(string(t), func(ctx context.Context, e domain.Event) { h(ctx, e) }); err != nil {
		return fmt.Errorf("subscribe %s: %w", t, err)
	}
	return nil
}

// SubscribeAll registers h for every event type the services emit.
func (b *Bus) SubscribeAll(h Handler) error {
	for _, t := range domain.AllEventTypes {
		if err := b.Subscribe(t, h); err != nil {
			return err
		}
	}
	return nil
}

// LogEvents writes every event to the structured log.
func (b *Bus) LogEvents() error {
	return b.SubscribeAll(func(ctx context.Context, e domain.Event) {
		fields := []zap.Field{zap.String("event", string(e.Type))}
		if e.RecordID != 0 {
			fields = append(fields, zap.Uint64("record_id", uint64(e.RecordID)))
		}
		if e.RequestID != "" {
			fields = append(fields, zap.String("request_id", string(e.RequestID)))
		}
		if e.Principal != "" {
			fields = append(fields, zap.String("principal", string(e.Principal)))
		}
		if e.Reason != "" {
			fields = append(fields, zap.String("reason", e.Reason))
		}
		if e.Type == domain.EventCallbackRejected {
			b.log.Warn("event", fields...)
			return
		}
		b.log.Info("event", fields...)
	})
}
