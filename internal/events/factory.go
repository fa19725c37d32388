package events

import (
	"fmt"

	"slidecast/internal/infra"
)

// FromConfig builds the publisher selected by EVENTS_BACKEND.
func FromConfig(cfg *infra.Config) (Publisher, error) {
	switch cfg.EventsBackend {
	case "", "none":
		return Nop{}, nil
	case "nats":
		return NewNATSPublisher(cfg.NATSURL, cfg.EventsSubjectPrefix)
	case "rabbitmq":
		if cfg.RabbitMQURL == "" {
			return nil, fmt.Errorf("events: RABBITMQ_URL is required")
		}
		return NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	default:
		return nil, fmt.Errorf("events: unsupported backend %q", cfg.EventsBackend)
	}
}
