// Package alerts keeps the time-ordered alert history and the per-frame critical set.
package alerts

import (
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/baby-safety-monitor/internal/pose"
)

// Type is the kind of alert a record represents
type Type string

const (
	// Critical marks a hazard inside the critical distance
	Critical Type = "CRITICAL"
	// PreAlert marks a hazard at warning distance while the baby is reaching
	PreAlert Type = "PRE-ALERT"
)

// Record is one emitted alert. Records are never mutated after creation.
// The JSON shape is what the polling web client reads from /get_alerts.
type Record struct {
	ID            string    `json:"id"`
	Type          Type      `json:"type"`
	Hazard        string    `json:"hazard"`
	Distance      float64   `json:"distance"`
	ReachScore    float64   `json:"reach_score"`
	HandProximity float64   `json:"hand_proximity"`
	Timestamp     float64   `json:"timestamp"` // Epoch seconds
	TimeStr       string    `json:"time_str"`
	IsReaching    bool      `json:"is_reaching"`
	ReachingArm   *pose.Arm `json:"reaching_arm"`
	Message       string    `json:"message"`

	at time.Time
}

// NewRecord stamps a record with a fresh ID and the given creation time.
func NewRecord(typ Type, hazard string, at time.Time) Record {
	return Record{
		ID:        uuid.NewString(),
		Type:      typ,
		Hazard:    hazard,
		Timestamp: Epoch(at),
		TimeStr:   at.Local().Format("15:04:05"),
		at:        at,
	}
}

// Time returns the record creation time.
func (r Record) Time() time.Time {
	if !r.at.IsZero() {
		return r.at
	}
	return FromEpoch(r.Timestamp)
}

// Epoch converts t to fractional epoch seconds.
func Epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// FromEpoch converts fractional epoch seconds to a time.Time.
func FromEpoch(sec float64) time.Time {
	whole := int64(sec)
	return time.Unix(whole, int64((sec-float64(whole))*1e9))
}
