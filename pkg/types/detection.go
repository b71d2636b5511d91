package types

import "time"

// BoundingBox is an (x1, y1, x2, y2) box in pixel coordinates.
// The detector does not guarantee x1 <= x2 or y1 <= y2.
type BoundingBox [4]float64

// X1 returns the left edge
func (b BoundingBox) X1() float64 { return b[0] }

// Y1 returns the top edge
func (b BoundingBox) Y1() float64 { return b[1] }

// X2 returns the right edge
func (b BoundingBox) X2() float64 { return b[2] }

// Y2 returns the bottom edge
func (b BoundingBox) Y2() float64 { return b[3] }

// PointBox returns a degenerate box whose corners are both (x, y).
func PointBox(x, y int) BoundingBox {
	return BoundingBox{float64(x), float64(y), float64(x), float64(y)}
}

// RawDetection is one labeled row of object detector output
type RawDetection struct {
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// HazardDetection is any non-baby detection above the confidence threshold
type HazardDetection struct {
	BBox       BoundingBox `json:"bbox"`
	Name       string      `json:"name"`
	Confidence float64     `json:"confidence"`
}

// Landmark is a normalized pose landmark (x, y in [0,1], z relative depth)
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// FrameReport is what the inference daemon sends for every processed frame
type FrameReport struct {
	FrameNumber uint64         `json:"frame_number"`
	Timestamp   float64        `json:"timestamp"` // Capture time, epoch seconds
	Width       int            `json:"width"`
	Height      int            `json:"height"`
	Detections  []RawDetection `json:"detections"`
	Landmarks   []Landmark     `json:"landmarks,omitempty"` // Empty when no pose was found
	JPEG        []byte         `json:"jpeg,omitempty"`      // Optional source frame (base64 in JSON)
}

// CaptureTime returns the report timestamp as a time.Time, or the zero time.
func (r *FrameReport) CaptureTime() time.Time {
	if r.Timestamp <= 0 {
		return time.Time{}
	}
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Default frame dimensions used when a report leaves them unset
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
)

// Dimensions returns the frame size, falling back to the defaults.
func (r *FrameReport) Dimensions() (int, int) {
	return r.DimensionsOr(DefaultFrameWidth, DefaultFrameHeight)
}

// DimensionsOr returns the frame size, using width and height for any side
// the report leaves unset.
func (r *FrameReport) DimensionsOr(width, height int) (int, int) {
	w, h := r.Width, r.Height
	if w <= 0 {
		w = width
	}
	if h <= 0 {
		h = height
	}
	return w, h
}
