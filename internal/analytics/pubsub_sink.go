package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
)

type publisher interface {
	Publish(ctx context.Context, topicID string, data []byte, attrs map[string]string) (string, error)
}

// PubSubSink forwards circulation events to a Pub/Sub topic. Publish failures
// are logged and dropped; circulation never waits on analytics outcomes.
type PubSubSink struct {
	pub   publisher
	topic string
	logg  *logger.Logger
	now   func() time.Time
}

// NewPubSubSink wires the sink to its transport.
func NewPubSubSink(pub publisher, topic string, logg *logger.Logger) (*PubSubSink, error) {
	if pub == nil {
		return nil, fmt.Errorf("pubsub publisher required")
	}
	if topic == "" {
		return nil, fmt.Errorf("events topic required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &PubSubSink{pub: pub, topic: topic, logg: logg, now: time.Now}, nil
}

func (s *PubSubSink) CollectEvent(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}
	if !event.Type.IsValid() {
		s.logg.Warn(ctx, fmt.Sprintf("dropping circulation event with unknown type %q", event.Type))
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.logg.Error(ctx, "marshaling circulation event", err)
		return
	}

	attrs := map[string]string{"event_type": string(event.Type)}
	if _, err := s.pub.Publish(ctx, s.topic, payload, attrs); err != nil {
		s.logg.Error(ctx, "publishing circulation event", err)
	}
}
