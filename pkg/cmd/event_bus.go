// Package cmd holds the shared wiring constructors used by the agent's
// entry point.
package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/flowmend/flowmend/pkg/channels/gochannel"
	"github.com/flowmend/flowmend/pkg/channels/kafka"
	"github.com/flowmend/flowmend/pkg/eventbus"
)

// NewEventBus builds the lifecycle event bus for a provider name. The
// in-process GoChannel bus is the default; Kafka is for deployments with
// external consumers of approval events.
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "", "gochannel":
		pub, sub, err := gochannel.CreateChannel(wmLogger)
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wmLogger, serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
