package model

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func landmarksAt(left, right, lip Point) []Point {
	pts := make([]Point, LandmarkCount)
	pts[LeftInnerEye] = left
	pts[RightInnerEye] = right
	pts[BottomLip] = lip
	return pts
}

func TestAffineFromPointsMapsTemplate(t *testing.T) {
	t.Parallel()

	src := [3]Point{{X: 10, Y: 20}, {X: 50, Y: 22}, {X: 30, Y: 70}}
	dst := [3]Point{{X: 34.9, Y: 31.9}, {X: 61.1, Y: 31.9}, {X: 48, Y: 76.3}}
	m, ok := affineFromPoints(src, dst)
	require.True(t, ok)

	// Source landmarks land on their template positions.
	for i := range src {
		x := m[0]*src[i].X + m[1]*src[i].Y + m[2]
		y := m[3]*src[i].X + m[4]*src[i].Y + m[5]
		assert.InDelta(t, dst[i].X, x, 1e-6)
		assert.InDelta(t, dst[i].Y, y, 1e-6)
	}
}

func TestAffineFromPointsRejectsCollinear(t *testing.T) {
	t.Parallel()

	_, ok := affineFromPoints(
		[3]Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}},
		[3]Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 1}},
	)
	require.False(t, ok)
}

func TestTemplateAlignerOutputSize(t *testing.T) {
	t.Parallel()

	img := solidImage(200, 160, color.RGBA{R: 200, A: 255})
	aligner := NewTemplateAligner(64)

	tests := []struct {
		name string
		face Face
	}{
		{
			name: "landmarks",
			face: Face{
				Box:       image.Rect(40, 30, 160, 150),
				Landmarks: landmarksAt(Point{X: 80, Y: 70}, Point{X: 120, Y: 70}, Point{X: 100, Y: 130}),
			},
		},
		{name: "box only", face: Face{Box: image.Rect(40, 30, 160, 150)}},
		{
			name: "collinear landmarks fall back to box",
			face: Face{
				Box:       image.Rect(0, 0, 50, 50),
				Landmarks: landmarksAt(Point{X: 1, Y: 1}, Point{X: 2, Y: 2}, Point{X: 3, Y: 3}),
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			crop, err := aligner.Align(img, tt.face)
			require.NoError(t, err)
			require.Equal(t, image.Rect(0, 0, 64, 64), crop.Bounds())
			r, _, _, a := crop.At(32, 32).RGBA()
			require.NotZero(t, a)
			require.Greater(t, r, uint32(0))
		})
	}
}

func TestTemplateAlignerEmptyBox(t *testing.T) {
	t.Parallel()

	img := solidImage(20, 20, color.White)
	_, err := NewTemplateAligner(32).Align(img, Face{Box: image.Rect(100, 100, 120, 120)})
	require.ErrorIs(t, err, ErrEmptyFace)
}

func TestRemoteDetectorParsesFaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"faces": []map[string]any{
				{"box": []int{1, 2, 11, 12}, "landmarks": [][]float64{{3, 4}, {5, 6}}},
				{"box": []int{20, 20, 40, 40}},
			},
		})
	}))
	t.Cleanup(srv.Close)

	det := NewRemoteDetector(RemoteConfig{DetectURL: srv.URL}, nil)
	faces, err := det.Detect(context.Background(), solidImage(50, 50, color.White))
	require.NoError(t, err)
	require.Len(t, faces, 2)
	require.Equal(t, image.Rect(1, 2, 11, 12), faces[0].Box)
	require.Equal(t, []Point{{X: 3, Y: 4}, {X: 5, Y: 6}}, faces[0].Landmarks)
	require.Nil(t, faces[1].Landmarks)
}

func TestRemoteDetectorServiceError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	_, err := NewRemoteDetector(RemoteConfig{DetectURL: srv.URL}, nil).
		Detect(context.Background(), solidImage(8, 8, color.White))
	require.ErrorContains(t, err, "detect service 503")
}

func TestRemoteEmbedderSingleBatchCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var req embedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := embedResponse{}
		for i := range req.Inputs {
			out.Embeddings = append(out.Embeddings, []float32{float32(i), 1})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	emb := NewRemoteEmbedder(RemoteConfig{EmbedURL: srv.URL}, nil)
	crops := []image.Image{solidImage(4, 4, color.White), solidImage(4, 4, color.Black), solidImage(4, 4, color.White)}
	vectors, err := emb.Embed(context.Background(), crops)
	require.NoError(t, err)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, [][]float32{{0, 1}, {1, 1}, {2, 1}}, vectors)
}

func TestRemoteEmbedderCountMismatch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[1,2]]}`))
	}))
	t.Cleanup(srv.Close)

	crops := []image.Image{solidImage(4, 4, color.White), solidImage(4, 4, color.White)}
	_, err := NewRemoteEmbedder(RemoteConfig{EmbedURL: srv.URL}, nil).Embed(context.Background(), crops)
	require.ErrorIs(t, err, ErrEmbeddingCount)
}

func TestRemoteEmbedderEmptyInput(t *testing.T) {
	t.Parallel()

	vectors, err := NewRemoteEmbedder(RemoteConfig{EmbedURL: "http://127.0.0.1:0"}, nil).Embed(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vectors)
}
