// Package classifier decides the alert level of every baby/hazard pair in a frame
// and records the resulting alerts in the ledger.
package classifier

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"time"

	"github.com/dj-oyu/baby-safety-monitor/internal/alerts"
	"github.com/dj-oyu/baby-safety-monitor/internal/geometry"
	"github.com/dj-oyu/baby-safety-monitor/internal/logger"
	"github.com/dj-oyu/baby-safety-monitor/internal/pose"
	"github.com/dj-oyu/baby-safety-monitor/pkg/types"
)

// Distance thresholds in pixels, compared against the effective distance
const (
	CriticalDistance = 100.0
	WarningDistance  = 200.0

	// ReachDiscount scales the distance while the baby is actively reaching
	ReachDiscount = 0.7
)

// Level is the alert level of one pair
type Level string

const (
	Safe     Level = "SAFE"
	Warning  Level = "WARNING"
	Critical Level = "CRITICAL"
	PreAlert Level = "PRE-ALERT"
)

var levelColors = map[Level]color.RGBA{
	Safe:     {R: 0, G: 255, B: 0, A: 255},
	Warning:  {R: 255, G: 165, B: 0, A: 255},
	Critical: {R: 255, G: 0, B: 0, A: 255},
	PreAlert: {R: 255, G: 215, B: 0, A: 255},
}

// Color returns the overlay color for the level
func (l Level) Color() color.RGBA {
	if c, ok := levelColors[l]; ok {
		return c
	}
	return levelColors[Safe]
}

// Pair is the drawing data for one baby/hazard pair.
type Pair struct {
	BabyCenter        image.Point       `json:"baby_center"`
	HazardCenter      image.Point       `json:"hazard_center"`
	HazardBox         types.BoundingBox `json:"hazard_box"`
	Hazard            string            `json:"hazard"`
	Distance          float64           `json:"distance"`
	EffectiveDistance float64           `json:"effective_distance"`
	Level             Level             `json:"alert_level"`
	Color             color.RGBA        `json:"-"`
	IsReaching        bool              `json:"is_reaching"`
	HandProximity     float64           `json:"hand_proximity"`
}

// Result is everything one frame produced.
type Result struct {
	Pairs           []Pair
	Records         []alerts.Record // Records appended to history this frame
	HasCritical     bool
	CooldownElapsed bool // The last-alert marker moved this frame
}

// Classifier evaluates frames against a ledger.
type Classifier struct {
	ledger *alerts.Ledger
}

// New creates a classifier that commits to ledger.
func New(ledger *alerts.Ledger) *Classifier {
	return &Classifier{ledger: ledger}
}

// Ledger returns the ledger the classifier writes to.
func (c *Classifier) Ledger() *alerts.Ledger {
	return c.ledger
}

// ClassifyFrame evaluates every baby/hazard pair and reports whether any pair
// is critical. A nil reach means the baby is not reaching.
func (c *Classifier) ClassifyFrame(babies []types.BoundingBox, hazards []types.HazardDetection, reach *pose.ReachState) ([]Pair, bool) {
	res := c.Classify(babies, hazards, reach)
	return res.Pairs, res.HasCritical
}

// Classify is ClassifyFrame with the full frame result.
// The critical set is rebuilt from this frame alone.
func (c *Classifier) Classify(babies []types.BoundingBox, hazards []types.HazardDetection, reach *pose.ReachState) Result {
	now := c.ledger.Clock().Now()

	res := Result{Pairs: make([]Pair, 0, len(babies)*len(hazards))}
	var critical []alerts.Record

	for _, baby := range babies {
		for _, hazard := range hazards {
			pair := Evaluate(baby, hazard, reach)
			res.Pairs = append(res.Pairs, pair)

			switch pair.Level {
			case Critical:
				res.HasCritical = true
				rec := newRecord(alerts.Critical, pair, reach, now)
				critical = append(critical, rec)
				res.Records = append(res.Records, rec)
			case PreAlert:
				res.Records = append(res.Records, newRecord(alerts.PreAlert, pair, reach, now))
			}
		}
	}

	res.CooldownElapsed = c.ledger.Commit(now, res.Records, critical)
	return res
}

// Evaluate computes the drawing data and alert level for a single pair.
func Evaluate(baby types.BoundingBox, hazard types.HazardDetection, reach *pose.ReachState) Pair {
	distance, babyCenter, hazardCenter := geometry.Distance(baby, hazard.BBox)

	pair := Pair{
		BabyCenter:   babyCenter,
		HazardCenter: hazardCenter,
		HazardBox:    hazard.BBox,
		Hazard:       hazard.Name,
		Distance:     distance,
		Level:        Safe,
		IsReaching:   reach.Reaching(),
	}

	if !geometry.Usable(distance) {
		logger.Debug("Classifier", "Ignoring unusable distance %v to %s", distance, hazard.Name)
		pair.Color = Safe.Color()
		return pair
	}

	if pair.IsReaching && reach.HandPosition != nil {
		pair.HandProximity = handProximity(*reach.HandPosition, hazard.BBox)
	}

	pair.EffectiveDistance = distance
	if pair.IsReaching {
		pair.EffectiveDistance = distance * ReachDiscount
	}

	switch {
	case pair.EffectiveDistance < CriticalDistance:
		pair.Level = Critical
	case pair.EffectiveDistance < WarningDistance && pair.IsReaching:
		pair.Level = PreAlert
	case pair.EffectiveDistance < WarningDistance:
		pair.Level = Warning
	}
	pair.Color = pair.Level.Color()
	return pair
}

// handProximity scores how close the reaching hand is to the hazard center (0..50).
func handProximity(hand image.Point, hazard types.BoundingBox) float64 {
	d, _, _ := geometry.Distance(types.PointBox(hand.X, hand.Y), hazard)
	if !geometry.Usable(d) {
		return 0
	}
	return math.Max(0, (100-d)/2)
}

func newRecord(typ alerts.Type, pair Pair, reach *pose.ReachState, now time.Time) alerts.Record {
	rec := alerts.NewRecord(typ, pair.Hazard, now)
	rec.Distance = pair.Distance
	rec.HandProximity = pair.HandProximity
	rec.IsReaching = pair.IsReaching

	if pair.IsReaching {
		arm := reach.PrimaryArm
		rec.ReachingArm = &arm
		rec.ReachScore = reach.ReachScore
	}

	switch {
	case typ == alerts.PreAlert:
		rec.Message = fmt.Sprintf("PRE-ALERT: Baby reaching toward %s (%.1fpx)", pair.Hazard, pair.Distance)
	case pair.IsReaching:
		rec.Message = fmt.Sprintf("CRITICAL: Baby reaching for %s with %s arm (%.1fpx, reach %.0f%%)",
			pair.Hazard, reach.PrimaryArm, pair.Distance, reach.ReachScore)
	default:
		rec.Message = fmt.Sprintf("CRITICAL: Baby near %s (%.1fpx)", pair.Hazard, pair.Distance)
	}
	return rec
}
