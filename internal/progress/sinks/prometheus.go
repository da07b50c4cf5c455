package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2php/iffse/internal/progress"
)

// PrometheusSink exports crawl progress via Prometheus: candidate outcomes,
// embedded faces, per-topic paging and throttling, and the number of topics
// currently crawling.
type PrometheusSink struct {
	candidates       *prometheus.CounterVec
	faces            prometheus.Counter
	candidateLatency *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	discovered   *prometheus.CounterVec
	topicEvents  *prometheus.CounterVec
	topicsActive prometheus.Gauge

	tracker *topicTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iffse_candidates_total",
			Help: "Candidates processed partitioned by outcome and skip reason.",
		}, []string{"outcome", "reason"}),
		faces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iffse_faces_embedded_total",
			Help: "Face vectors committed with newly created posts.",
		}),
		candidateLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "iffse_candidate_duration_seconds",
			Help:    "Wall time per candidate from dequeue to result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iffse_pages_fetched_total",
			Help: "Pages fetched per topic, seeds included.",
		}, []string{"topic"}),
		discovered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iffse_candidates_discovered_total",
			Help: "Candidates discovered per topic.",
		}, []string{"topic"}),
		topicEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iffse_topic_events_total",
			Help: "Topic lifecycle events partitioned by topic and stage.",
		}, []string{"topic", "stage"}),
		topicsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iffse_topics_active",
			Help: "Topics seeded and neither exhausted nor halted.",
		}),
		tracker: newTopicTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.candidates,
		s.faces,
		s.candidateLatency,
		s.pages,
		s.discovered,
		s.topicEvents,
		s.topicsActive,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCandidateDone:
		s.candidates.WithLabelValues(string(evt.Outcome), string(evt.Reason)).Inc()
		if evt.PostID != "" {
			s.faces.Add(float64(evt.Faces))
		}
		if evt.Dur > 0 {
			s.candidateLatency.WithLabelValues(string(evt.Outcome)).Observe(evt.Dur.Seconds())
		}
	case progress.StageTopicSeeded, progress.StagePageFetched:
		s.pages.WithLabelValues(evt.Topic).Inc()
		if evt.Candidates > 0 {
			s.discovered.WithLabelValues(evt.Topic).Add(float64(evt.Candidates))
		}
		if s.tracker.start(evt.Topic) {
			s.topicsActive.Inc()
		}
		if evt.Stage == progress.StageTopicSeeded {
			s.topicEvents.WithLabelValues(evt.Topic, string(evt.Stage)).Inc()
		}
	case progress.StageRateLimited, progress.StageReseeded:
		s.topicEvents.WithLabelValues(evt.Topic, string(evt.Stage)).Inc()
	case progress.StageTopicExhausted, progress.StageTopicFatal:
		s.topicEvents.WithLabelValues(evt.Topic, string(evt.Stage)).Inc()
		if s.tracker.stop(evt.Topic) {
			s.topicsActive.Dec()
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type topicTracker struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newTopicTracker() *topicTracker {
	return &topicTracker{active: make(map[string]struct{})}
}

func (t *topicTracker) start(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[topic]; ok {
		return false
	}
	t.active[topic] = struct{}{}
	return true
}

func (t *topicTracker) stop(topic string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[topic]; !ok {
		return false
	}
	delete(t.active, topic)
	return true
}
