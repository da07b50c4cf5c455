package crawler

import (
	"context"
	"time"
)

// CursorStore persists per-topic pagination state.
// Get returns ErrNotFound when the topic has never been seeded.
type CursorStore interface {
	Get(ctx context.Context, topic string) (TopicState, error)
	Put(ctx context.Context, state TopicState) error
	List(ctx context.Context) ([]TopicState, error)
	Delete(ctx context.Context, topic string) error
}

// PostStore commits Posts and their embeddings with create-if-absent semantics.
type PostStore interface {
	Commit(ctx context.Context, post Post, vectors [][]float32) (CommitResult, error)
	Exists(ctx context.Context, itemKey string) (bool, error)
}

// Seeder bootstraps a topic and mints a protocol id.
type Seeder interface {
	Seed(ctx context.Context, topic string) (Seed, error)
}

// PageFetcher performs exactly one paginated query round trip.
type PageFetcher interface {
	FetchPage(ctx context.Context, protocolID, cursor, topic string) (Page, error)
}

// ProtocolResolver extracts the current protocol id from a bootstrap payload.
type ProtocolResolver interface {
	Resolve(ctx context.Context, bootstrap []byte) (string, error)
}

// ImageFetcher downloads raw image bytes.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// Publisher pushes notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for candidates.
type Queue interface {
	Enqueue(ctx context.Context, candidate Candidate) error
	Dequeue(ctx context.Context) (Candidate, error)
}

// Hasher computes digests for image integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces identifiers (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Sleeper blocks for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}
