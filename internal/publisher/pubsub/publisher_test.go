package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

func TestAttributesOf(t *testing.T) {
	t.Parallel()

	attrs := attributesOf(map[string]any{"event": "post.created", "topic": "selfie", "faces": 2})
	require.Equal(t, map[string]string{"event": "post.created", "topic": "selfie"}, attrs)
	require.Nil(t, attributesOf("plain"))
	require.Nil(t, attributesOf(map[string]any{"faces": 1}))
}

func TestPublishRequiresTopic(t *testing.T) {
	t.Parallel()

	p := New(nil, "", nil)
	_, err := p.Publish(context.Background(), "", map[string]any{})
	require.ErrorContains(t, err, "topic is not configured")
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	p := New(nil, "posts", nil)
	_, err := p.Publish(context.Background(), "", map[string]any{"bad": make(chan int)})
	require.ErrorContains(t, err, "marshal payload")
}

type stopRecorder struct{ stopped bool }

func (*stopRecorder) Publish(context.Context, *pubsub.Message) *pubsub.PublishResult { return nil }

func (s *stopRecorder) Stop() { s.stopped = true }

func TestCloseStopsTopics(t *testing.T) {
	t.Parallel()

	p := New(nil, "posts", nil)
	var opened []string
	stubs := map[string]*stopRecorder{}
	p.open = func(name string) topicPublisher {
		opened = append(opened, name)
		s := &stopRecorder{}
		stubs[name] = s
		return s
	}
	p.topic("a")
	p.topic("a")
	p.topic("b")
	require.Equal(t, []string{"a", "b"}, opened)

	require.NoError(t, p.Close())
	require.True(t, stubs["a"].stopped)
	require.True(t, stubs["b"].stopped)
}
