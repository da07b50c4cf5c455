package model

import (
	"errors"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// ErrEmptyFace is returned when a face has neither landmarks nor a usable box.
var ErrEmptyFace = errors.New("face has no usable region")

// alignTemplate holds the normalized target positions of the alignment
// landmarks inside a square crop.
var alignTemplate = [3]Point{
	{X: 0.3636, Y: 0.3325}, // left inner eye
	{X: 0.6364, Y: 0.3325}, // right inner eye
	{X: 0.5000, Y: 0.7951}, // bottom lip
}

// TemplateAligner warps each face onto a fixed template so the embedding
// network always sees eyes and mouth in the same place.
type TemplateAligner struct {
	size   int
	interp draw.Transformer
}

// NewTemplateAligner builds an aligner producing size x size crops.
func NewTemplateAligner(size int) *TemplateAligner {
	if size <= 0 {
		size = 96
	}
	return &TemplateAligner{size: size, interp: draw.BiLinear}
}

// Size returns the output edge length.
func (a *TemplateAligner) Size() int {
	return a.size
}

// Align returns a size x size RGBA crop of face. Faces without a full landmark
// set, or with degenerate landmarks, fall back to scaling the bounding box.
func (a *TemplateAligner) Align(img image.Image, face Face) (image.Image, error) {
	dst := image.NewRGBA(image.Rect(0, 0, a.size, a.size))

	if face.HasLandmarks() {
		src := [3]Point{
			face.Landmarks[LeftInnerEye],
			face.Landmarks[RightInnerEye],
			face.Landmarks[BottomLip],
		}
		var dstPts [3]Point
		for i, p := range alignTemplate {
			dstPts[i] = Point{X: p.X * float64(a.size), Y: p.Y * float64(a.size)}
		}
		if m, ok := affineFromPoints(src, dstPts); ok {
			a.interp.Transform(dst, m, img, img.Bounds(), draw.Src, nil)
			return dst, nil
		}
	}

	box := face.Box.Intersect(img.Bounds())
	if box.Empty() {
		return nil, ErrEmptyFace
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, box, draw.Src, nil)
	return dst, nil
}

// affineFromPoints solves the affine map taking src[i] to dst[i].
// It reports false when the source points are collinear.
func affineFromPoints(src, dst [3]Point) (f64.Aff3, bool) {
	det := src[0].X*(src[1].Y-src[2].Y) -
		src[0].Y*(src[1].X-src[2].X) +
		(src[1].X*src[2].Y - src[2].X*src[1].Y)
	if math.Abs(det) < 1e-9 {
		return f64.Aff3{}, false
	}

	solve := func(v0, v1, v2 float64) (float64, float64, float64) {
		a := (v0*(src[1].Y-src[2].Y) - src[0].Y*(v1-v2) + (v1*src[2].Y - v2*src[1].Y)) / det
		b := (src[0].X*(v1-v2) - v0*(src[1].X-src[2].X) + (src[1].X*v2 - src[2].X*v1)) / det
		c := (src[0].X*(src[1].Y*v2-src[2].Y*v1) -
			src[0].Y*(src[1].X*v2-src[2].X*v1) +
			v0*(src[1].X*src[2].Y-src[2].X*src[1].Y)) / det
		return a, b, c
	}

	a, b, c := solve(dst[0].X, dst[1].X, dst[2].X)
	d, e, f := solve(dst[0].Y, dst[1].Y, dst[2].Y)
	return f64.Aff3{a, b, c, d, e, f}, true
}
