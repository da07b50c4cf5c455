package memory

import (
	"context"
	"sync"

	"github.com/2php/iffse/internal/crawler"
)

// PostStore keeps Posts and their embeddings in memory.
// Commit holds a single lock so create-if-absent is atomic.
type PostStore struct {
	mu         sync.RWMutex
	posts      map[string]crawler.Post
	embeddings map[string][]crawler.Embedding
	// FailCommits makes Commit return the error, for tests.
	FailCommits error
}

// NewPostStore constructs a PostStore.
func NewPostStore() *PostStore {
	return &PostStore{
		posts:      make(map[string]crawler.Post),
		embeddings: make(map[string][]crawler.Embedding),
	}
}

// Commit creates the Post with all vectors, or reports CommitAlreadyExists
// without touching the existing Post.
func (s *PostStore) Commit(_ context.Context, post crawler.Post, vectors [][]float32) (crawler.CommitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCommits != nil {
		return "", s.FailCommits
	}
	if _, exists := s.posts[post.ItemKey]; exists {
		return crawler.CommitAlreadyExists, nil
	}
	embeddings := make([]crawler.Embedding, len(vectors))
	for i, v := range vectors {
		embeddings[i] = crawler.Embedding{
			PostID:    post.ID,
			FaceIndex: i,
			Vector:    append([]float32(nil), v...),
		}
	}
	s.posts[post.ItemKey] = post
	s.embeddings[post.ItemKey] = embeddings
	return crawler.CommitCreated, nil
}

// Exists reports whether a Post exists for itemKey.
func (s *PostStore) Exists(_ context.Context, itemKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.posts[itemKey]
	return ok, nil
}

// Post returns the Post for itemKey.
func (s *PostStore) Post(itemKey string) (crawler.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	post, ok := s.posts[itemKey]
	return post, ok
}

// Embeddings returns a copy of the embeddings attached to itemKey.
func (s *PostStore) Embeddings(itemKey string) []crawler.Embedding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.embeddings[itemKey]
	out := make([]crawler.Embedding, len(src))
	copy(out, src)
	return out
}

// Count returns the number of Posts.
func (s *PostStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.posts)
}
