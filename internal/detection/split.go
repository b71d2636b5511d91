// Package detection separates raw detector output into the baby and hazard sets.
package detection

import "github.com/dj-oyu/baby-safety-monitor/pkg/types"

const (
	// BabyClass is the detector label of the monitored infant
	BabyClass = "baby"

	// ConfidenceThreshold is the minimum (exclusive) confidence for a detection to count
	ConfidenceThreshold = 0.5
)

// Split returns the boxes labeled as the baby and every other confident
// detection as a hazard. Rows at or below the threshold are dropped.
func Split(detections []types.RawDetection) ([]types.BoundingBox, []types.HazardDetection) {
	babies := make([]types.BoundingBox, 0, 1)
	hazards := make([]types.HazardDetection, 0, len(detections))

	for _, d := range detections {
		if !(d.Confidence > ConfidenceThreshold) {
			continue
		}
		if d.ClassName == BabyClass {
			babies = append(babies, d.BBox)
			continue
		}
		hazards = append(hazards, types.HazardDetection{
			BBox:       d.BBox,
			Name:       d.ClassName,
			Confidence: d.Confidence,
		})
	}

	return babies, hazards
}
