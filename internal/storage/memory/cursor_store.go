// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/2php/iffse/internal/crawler"
)

// CursorStore keeps topic pagination state in a map.
type CursorStore struct {
	mu     sync.RWMutex
	states map[string]crawler.TopicState
}

// NewCursorStore constructs a CursorStore.
func NewCursorStore() *CursorStore {
	return &CursorStore{states: make(map[string]crawler.TopicState)}
}

// Get returns the state for topic or crawler.ErrNotFound.
func (s *CursorStore) Get(_ context.Context, topic string) (crawler.TopicState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[topic]
	if !ok {
		return crawler.TopicState{}, crawler.ErrNotFound
	}
	return state, nil
}

// Put overwrites the state for state.Topic.
func (s *CursorStore) Put(_ context.Context, state crawler.TopicState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Topic] = state
	return nil
}

// List returns all states ordered by topic.
func (s *CursorStore) List(_ context.Context) ([]crawler.TopicState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.TopicState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

// Delete removes the state for topic.
func (s *CursorStore) Delete(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.states[topic]; !ok {
		return crawler.ErrNotFound
	}
	delete(s.states, topic)
	return nil
}
