// Package pipeline turns a candidate's image into face embeddings.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoding
	_ "image/jpeg" // register JPEG decoding
	_ "image/png"  // register PNG decoding
	"time"

	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // register WebP decoding

	"github.com/2php/iffse/internal/crawler"
	"github.com/2php/iffse/internal/logging"
	"github.com/2php/iffse/internal/metrics"
	"github.com/2php/iffse/internal/model"
)

// Detector locates faces in an image, in a stable detector order.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]model.Face, error)
}

// Aligner produces a fixed-size crop for one face.
type Aligner interface {
	Align(img image.Image, face model.Face) (image.Image, error)
}

// Embedder maps a batch of aligned crops to one vector per crop.
type Embedder interface {
	Embed(ctx context.Context, crops []image.Image) ([][]float32, error)
}

// Model bundles the inference collaborators. It is built once and shared
// read-only by every worker.
type Model struct {
	Detector  Detector
	Aligner   Aligner
	Embedder  Embedder
	Dimension int
}

// Validate reports missing collaborators.
func (m Model) Validate() error {
	switch {
	case m.Detector == nil:
		return errors.New("model detector is required")
	case m.Aligner == nil:
		return errors.New("model aligner is required")
	case m.Embedder == nil:
		return errors.New("model embedder is required")
	case m.Dimension < 0:
		return errors.New("model dimension must be >= 0")
	}
	return nil
}

// Pipeline runs fetch, decode, detect, align and embed for one candidate.
type Pipeline struct {
	fetcher crawler.ImageFetcher
	hasher  crawler.Hasher
	model   Model
	logger  *zap.Logger
}

// New wires a Pipeline. hasher may be nil, in which case no digest is recorded.
func New(fetcher crawler.ImageFetcher, hasher crawler.Hasher, m Model, logger *zap.Logger) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("pipeline image fetcher is required")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{
		fetcher: fetcher,
		hasher:  hasher,
		model:   m,
		logger:  logging.OrNop(logger).Named("pipeline"),
	}, nil
}

// Process returns one vector per detected face, in detector order. Candidates
// that cannot produce vectors fail with a *crawler.SkipError. Context
// cancellation is returned as is.
func (p *Pipeline) Process(ctx context.Context, c crawler.Candidate) (crawler.Extraction, error) {
	start := time.Now()
	data, err := p.fetcher.FetchImage(ctx, c.MediaURL)
	metrics.ObserveStage("fetch", time.Since(start))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.Extraction{}, ctxErr
		}
		return crawler.Extraction{}, crawler.Skip(crawler.SkipFetchFailed, err)
	}

	out := crawler.Extraction{Candidate: c}
	if p.hasher != nil {
		digest, err := p.hasher.Hash(data)
		if err != nil {
			return crawler.Extraction{}, crawler.Skip(crawler.SkipDecodeFailed, fmt.Errorf("hash image: %w", err))
		}
		out.ImageHash = digest
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return crawler.Extraction{}, crawler.Skip(crawler.SkipDecodeFailed, fmt.Errorf("decode image: %w", err))
	}

	start = time.Now()
	faces, err := p.model.Detector.Detect(ctx, img)
	metrics.ObserveStage("detect", time.Since(start))
	if err != nil {
		return crawler.Extraction{}, p.modelFailure(ctx, fmt.Errorf("detect: %w", err))
	}
	if len(faces) == 0 {
		return crawler.Extraction{}, crawler.Skip(crawler.SkipNoFace, nil)
	}

	start = time.Now()
	crops := make([]image.Image, len(faces))
	for i, face := range faces {
		crop, err := p.model.Aligner.Align(img, face)
		if err != nil {
			return crawler.Extraction{}, crawler.Skip(crawler.SkipModelFailed, fmt.Errorf("align face %d: %w", i, err))
		}
		crops[i] = crop
	}
	metrics.ObserveStage("align", time.Since(start))

	start = time.Now()
	vectors, err := p.model.Embedder.Embed(ctx, crops)
	metrics.ObserveStage("embed", time.Since(start))
	if err != nil {
		return crawler.Extraction{}, p.modelFailure(ctx, fmt.Errorf("embed: %w", err))
	}
	if err := p.checkVectors(vectors, len(faces)); err != nil {
		return crawler.Extraction{}, crawler.Skip(crawler.SkipModelFailed, err)
	}

	out.Vectors = vectors
	p.logger.Debug("candidate embedded",
		zap.String("item_key", c.ItemKey),
		zap.String("format", format),
		zap.Int("faces", len(faces)),
	)
	return out, nil
}

func (p *Pipeline) modelFailure(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return crawler.Skip(crawler.SkipModelFailed, err)
}

func (p *Pipeline) checkVectors(vectors [][]float32, faces int) error {
	if len(vectors) != faces {
		return fmt.Errorf("got %d vectors for %d faces", len(vectors), faces)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("vector %d is empty", i)
		}
		if p.model.Dimension > 0 && len(v) != p.model.Dimension {
			return fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), p.model.Dimension)
		}
	}
	return nil
}
