package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowmend/flowmend/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			event := newEvent(eventType)
			if event == nil {
				msg.Nack()

				continue
			}

			if err := json.Unmarshal(msg.Payload, event); err != nil {
				msg.Nack()

				continue
			}

			if err := handler(ctx, event); err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

// newEvent allocates the concrete event for a wire type, or nil for
// types this bus does not know.
func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.ApprovalCreatedEvent:
		return &events.ApprovalCreated{}
	case events.ApprovalApprovedEvent:
		return &events.ApprovalApproved{}
	case events.ApprovalRejectedEvent:
		return &events.ApprovalRejected{}
	case events.ApprovalExpiredEvent:
		return &events.ApprovalExpired{}
	case events.ApprovalAppliedEvent:
		return &events.ApprovalApplied{}
	case events.ApprovalApplyFailedEvent:
		return &events.ApprovalApplyFailed{}
	case events.ApprovalRevisedEvent:
		return &events.ApprovalRevised{}
	case events.ConversationRepliedEvent:
		return &events.ConversationReplied{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
