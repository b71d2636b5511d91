// Package annotator draws the alert overlay onto camera frames and encodes them as JPEG.
package annotator

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"time"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/dj-oyu/baby-safety-monitor/internal/classifier"
	"github.com/dj-oyu/baby-safety-monitor/internal/pose"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

const defaultQuality = 80

var (
	babyColor   = color.RGBA{R: 0, G: 128, B: 255, A: 255}
	handColor   = color.RGBA{R: 255, G: 255, B: 0, A: 255}
	statusColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	alertColor  = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	canvasColor = color.RGBA{R: 24, G: 24, B: 24, A: 255}
)

// Frame is everything the overlay needs for one frame.
type Frame struct {
	JPEG    []byte // Source image; a blank canvas is used when empty
	Width   int
	Height  int
	Babies  []types.BoundingBox
	Hazards []types.HazardDetection
	Pairs   []classifier.Pair
	Reach   *pose.ReachState
	Time    time.Time
}

// Annotator renders overlays. It holds no per-frame state.
type Annotator struct {
	quality int
}

// New creates an annotator encoding at the given JPEG quality (0 selects the default).
func New(quality int) *Annotator {
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	return &Annotator{quality: quality}
}

// Annotate renders f and encodes it as JPEG.
func (a *Annotator) Annotate(f Frame) ([]byte, error) {
	img, err := a.Render(f)
	if err != nil {
		return nil, err
	}
	return a.encode(img)
}

// Blank encodes an empty canvas, used when no frame has been produced yet.
func (a *Annotator) Blank(width, height int) ([]byte, error) {
	return a.encode(canvas(width, height).Image())
}

// Render draws the overlay without encoding.
func (a *Annotator) Render(f Frame) (image.Image, error) {
	dc, err := newContext(f)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(basicfont.Face7x13)

	for _, b := range f.Babies {
		drawBox(dc, b, babyColor, 2)
	}

	critical := 0
	for _, p := range f.Pairs {
		if p.Level == classifier.Critical {
			critical++
		}

		dc.SetColor(p.Color)
		dc.SetLineWidth(2)
		dc.DrawLine(float64(p.BabyCenter.X), float64(p.BabyCenter.Y), float64(p.HazardCenter.X), float64(p.HazardCenter.Y))
		dc.Stroke()

		drawBox(dc, p.HazardBox, p.Color, 2)

		mid := image.Pt((p.BabyCenter.X+p.HazardCenter.X)/2, (p.BabyCenter.Y+p.HazardCenter.Y)/2)
		dc.DrawString(fmt.Sprintf("%.1fpx", p.Distance), float64(mid.X), float64(mid.Y-10))
		dc.DrawString(string(p.Level), p.HazardBox.X1(), p.HazardBox.Y1()-30)
	}

	if f.Reach.Reaching() && f.Reach.HandPosition != nil {
		hand := f.Reach.HandPosition
		dc.SetColor(handColor)
		dc.SetLineWidth(2)
		dc.DrawCircle(float64(hand.X), float64(hand.Y), 8)
		dc.Stroke()
		dc.DrawString(fmt.Sprintf("REACH %s %.0f%%", f.Reach.PrimaryArm, f.Reach.ReachScore), float64(hand.X+12), float64(hand.Y))
	}

	dc.SetColor(statusColor)
	dc.DrawString(fmt.Sprintf("Baby: %d | Hazards: %d | Critical: %d", len(f.Babies), len(f.Hazards), critical), 10, 30)

	if critical > 0 {
		dc.SetColor(alertColor)
		dc.DrawString(fmt.Sprintf("%d CRITICAL ALERT(S)!", critical), 10, 60)
	}

	if !f.Time.IsZero() {
		dc.SetColor(statusColor)
		dc.DrawString(f.Time.Local().Format("15:04:05"), float64(dc.Width()-120), 30)
	}

	return dc.Image(), nil
}

func newContext(f Frame) (*gg.Context, error) {
	if len(f.JPEG) == 0 {
		return canvas(f.Width, f.Height), nil
	}
	src, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return gg.NewContextForImage(src), nil
}

func canvas(width, height int) *gg.Context {
	if width <= 0 || height <= 0 {
		width, height = types.DefaultFrameWidth, types.DefaultFrameHeight
	}
	dc := gg.NewContext(width, height)
	dc.SetColor(canvasColor)
	dc.Clear()
	return dc
}

func drawBox(dc *gg.Context, b types.BoundingBox, c color.Color, width float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(b.X1(), b.Y1(), b.X2()-b.X1(), b.Y2()-b.Y1())
	dc.Stroke()
}

func (a *Annotator) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: a.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
