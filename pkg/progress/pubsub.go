package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
)

// PubSubSink publishes progress events to a Pub/Sub topic so external
// dashboards can follow a run. Publishing is asynchronous; delivery failures
// are logged and dropped, never surfaced to the engine.
type PubSubSink struct {
	topic  *pubsub.Topic
	logger *zap.Logger
}

// NewPubSubSink creates a sink for the given topic, creating the topic if it
// does not exist yet.
func NewPubSubSink(ctx context.Context, client *pubsub.Client, topicID string, logger *zap.Logger) (*PubSubSink, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic existence: %w", err)
	}
	if !exists {
		topic, err = client.CreateTopic(ctx, topicID)
		if err != nil {
			return nil, fmt.Errorf("create topic: %w", err)
		}
	}
	return &PubSubSink{topic: topic, logger: logger}, nil
}

func (s *PubSubSink) Publish(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("drop progress event: marshal failed", zap.Error(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		res := s.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"run_id": ev.RunID,
				"type":   string(ev.Type),
			},
		})
		if _, err := res.Get(ctx); err != nil {
			s.logger.Warn("drop progress event: publish failed",
				zap.String("run_id", ev.RunID),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}()
}

// Close stops the underlying topic's publish goroutines.
func (s *PubSubSink) Close() {
	s.topic.Stop()
}
