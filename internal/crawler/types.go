// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// TopicState is the persisted pagination position for one topic.
// An empty Cursor means the topic starts from its first page.
type TopicState struct {
	Topic      string    `json:"topic"`
	ProtocolID string    `json:"protocol_id"`
	Cursor     string    `json:"cursor,omitempty"`
	Exhausted  bool      `json:"exhausted"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Candidate is one discovered item awaiting the embedding pipeline.
type Candidate struct {
	ItemKey  string `json:"item_key"`
	MediaURL string `json:"media_url"`
	Topic    string `json:"topic"`
}

// Seed is the outcome of bootstrapping a topic.
type Seed struct {
	ProtocolID string
	Candidates []Candidate
	Cursor     string
	HasMore    bool
}

// Page is one page returned by the paginated query surface.
type Page struct {
	Candidates []Candidate
	NextCursor string
	HasMore    bool
}

// Post is the durable record for one processed item.
type Post struct {
	ID        string    `json:"id"`
	ItemKey   string    `json:"item_key"`
	MediaURL  string    `json:"media_url"`
	Topic     string    `json:"topic"`
	ImageHash string    `json:"image_hash,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Embedding is one face vector owned by a Post.
type Embedding struct {
	PostID    string    `json:"post_id"`
	FaceIndex int       `json:"face_index"`
	Vector    []float32 `json:"vector"`
}

// CommitResult reports the outcome of a create-if-absent commit.
type CommitResult string

// Commit outcomes.
const (
	CommitCreated       CommitResult = "created"
	CommitAlreadyExists CommitResult = "already_exists"
)

// Outcome is the final disposition of one candidate.
type Outcome string

// Candidate outcomes reported on the result channel.
const (
	OutcomeCreated       Outcome = "created"
	OutcomeAlreadyExists Outcome = "already_exists"
	OutcomeSkipped       Outcome = "skipped"
	OutcomeFailed        Outcome = "failed"
)

// SkipReason explains why a candidate produced no Post.
type SkipReason string

// Skip reasons produced by the embedding pipeline.
const (
	SkipFetchFailed  SkipReason = "fetch_failed"
	SkipDecodeFailed SkipReason = "decode_failed"
	SkipNoFace       SkipReason = "no_face"
	SkipModelFailed  SkipReason = "model_failed"
)

// Result acknowledges one processed candidate.
type Result struct {
	Candidate Candidate
	Outcome   Outcome
	Reason    SkipReason
	Faces     int
	PostID    string
	Duration  time.Duration
	Err       error
}

// Extraction is the pipeline output for a candidate with at least one face.
type Extraction struct {
	Candidate Candidate
	ImageHash string
	Vectors   [][]float32
}
