package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/progress"
)

// PostCreatedEvent is the payload published for every newly created post.
const PostCreatedEvent = "post.created"

// PublishSink notifies downstream consumers about newly created posts.
type PublishSink struct {
	publisher crawler.Publisher
	topic     string
	logger    *zap.Logger
}

// NewPublishSink publishes created-post notifications to topic.
func NewPublishSink(publisher crawler.Publisher, topic string, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublishSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one message per created post. Every message is attempted;
// failures are joined into the returned error.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	var errs []error
	for _, evt := range batch {
		if evt.Stage != progress.StageCandidateDone || evt.Outcome != crawler.OutcomeCreated {
			continue
		}
		payload := map[string]any{
			"event":     PostCreatedEvent,
			"run_id":    evt.RunUUID().String(),
			"post_id":   evt.PostID,
			"item_key":  evt.ItemKey,
			"topic":     evt.Topic,
			"faces":     evt.Faces,
			"timestamp": evt.TS,
		}
		msgID, err := s.publisher.Publish(ctx, s.topic, payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", evt.ItemKey, err))
			continue
		}
		s.logger.Debug("post notification published",
			zap.String("post_id", evt.PostID),
			zap.String("message_id", msgID),
		)
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublishSink) Close(context.Context) error {
	return nil
}
