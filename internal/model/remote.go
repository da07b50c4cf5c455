package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/2php/iffse/internal/logging"
	"github.com/2php/iffse/internal/metrics"
)

// ErrEmbeddingCount is returned when the embedding service answers with a
// different number of vectors than crops submitted.
var ErrEmbeddingCount = errors.New("embedding count mismatch")

const maxResponseBytes = 16 << 20

// RemoteConfig points the remote model clients at their inference endpoints.
type RemoteConfig struct {
	DetectURL string
	EmbedURL  string
	Timeout   time.Duration
}

// remote holds the HTTP plumbing shared by the detector and the embedder.
type remote struct {
	client *http.Client
	logger *zap.Logger
}

func newRemote(timeout time.Duration, logger *zap.Logger) remote {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return remote{
		client: &http.Client{Timeout: timeout},
		logger: logging.OrNop(logger),
	}
}

func (r remote) post(ctx context.Context, kind, endpoint, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", kind, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		metrics.ObserveUpstream(kind, "error", 0)
		return fmt.Errorf("%s request: %w", kind, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	metrics.ObserveUpstream(kind, fmt.Sprintf("%d", resp.StatusCode), len(data))
	if err != nil {
		return fmt.Errorf("read %s response: %w", kind, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s service %d: %s", kind, resp.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", kind, err)
	}
	return nil
}

type detectResponse struct {
	Faces []struct {
		Box       [4]int       `json:"box"`
		Landmarks [][2]float64 `json:"landmarks"`
	} `json:"faces"`
}

// RemoteDetector locates faces by posting a JPEG rendition of the image to a
// detection service.
type RemoteDetector struct {
	endpoint string
	remote   remote
}

// NewRemoteDetector returns a detector bound to cfg.DetectURL.
func NewRemoteDetector(cfg RemoteConfig, logger *zap.Logger) *RemoteDetector {
	return &RemoteDetector{endpoint: cfg.DetectURL, remote: newRemote(cfg.Timeout, logger)}
}

// Detect returns the faces found in img. An empty slice means no face.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image) ([]Face, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode detect input: %w", err)
	}

	var resp detectResponse
	if err := d.remote.post(ctx, "detect", d.endpoint, "image/jpeg", buf.Bytes(), &resp); err != nil {
		return nil, err
	}

	faces := make([]Face, 0, len(resp.Faces))
	for _, f := range resp.Faces {
		face := Face{Box: image.Rect(f.Box[0], f.Box[1], f.Box[2], f.Box[3])}
		if len(f.Landmarks) > 0 {
			face.Landmarks = make([]Point, len(f.Landmarks))
			for i, p := range f.Landmarks {
				face.Landmarks[i] = Point{X: p[0], Y: p[1]}
			}
		}
		faces = append(faces, face)
	}
	d.remote.logger.Debug("faces detected", zap.Int("faces", len(faces)))
	return faces, nil
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// RemoteEmbedder turns aligned crops into vectors with one request per batch.
type RemoteEmbedder struct {
	endpoint string
	remote   remote
}

// NewRemoteEmbedder returns an embedder bound to cfg.EmbedURL.
func NewRemoteEmbedder(cfg RemoteConfig, logger *zap.Logger) *RemoteEmbedder {
	return &RemoteEmbedder{endpoint: cfg.EmbedURL, remote: newRemote(cfg.Timeout, logger)}
}

// Embed returns one vector per crop, in input order.
func (e *RemoteEmbedder) Embed(ctx context.Context, crops []image.Image) ([][]float32, error) {
	if len(crops) == 0 {
		return nil, nil
	}

	req := embedRequest{Inputs: make([]string, len(crops))}
	for i, crop := range crops {
		var buf bytes.Buffer
		if err := png.Encode(&buf, crop); err != nil {
			return nil, fmt.Errorf("encode crop %d: %w", i, err)
		}
		req.Inputs[i] = base64.StdEncoding.EncodeToString(buf.Bytes())
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	var resp embedResponse
	if err := e.remote.post(ctx, "embed", e.endpoint, "application/json", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(crops) {
		return nil, fmt.Errorf("%w: sent %d crops, got %d vectors", ErrEmbeddingCount, len(crops), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}
