// Package model adapts the face detection and embedding models used by the pipeline.
package model

import "image"

// LandmarkCount is the size of the landmark set the aligner expects.
const LandmarkCount = 68

// Landmark indices used for alignment: both inner eye corners and the bottom lip.
const (
	LeftInnerEye  = 39
	RightInnerEye = 42
	BottomLip     = 57
)

// Point is a sub-pixel image coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Face is one detected face region with its landmarks, in source image coordinates.
type Face struct {
	Box       image.Rectangle
	Landmarks []Point
}

// HasLandmarks reports whether the full landmark set is present.
func (f Face) HasLandmarks() bool {
	return len(f.Landmarks) >= LandmarkCount
}
