package core

import (
	"fmt"
	"strings"
)

// LaneDensity pairs a lane with the density that exceeded the threshold.
type LaneDensity struct {
	LaneID  string `json:"lane_id"`
	Density uint   `json:"density"`
}

// AlertSummary is the congestion verdict for one cycle of an area.
type AlertSummary struct {
	Threshold uint          `json:"threshold"`
	Triggered bool          `json:"triggered"`
	Congested []LaneDensity `json:"congested_lanes,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// Lanes returns the congested lane ids in canonical order.
func (a AlertSummary) Lanes() []string {
	out := make([]string, len(a.Congested))
	for i, c := range a.Congested {
		out[i] = c.LaneID
	}
	return out
}

// EvaluateAlerts flags every lane whose density is strictly above threshold.
// Congested lanes keep the order of lanes.
func EvaluateAlerts(area string, threshold uint, lanes []LaneState) AlertSummary {
	summary := AlertSummary{Threshold: threshold}
	for _, lane := range lanes {
		if lane.Density > threshold {
			summary.Congested = append(summary.Congested, LaneDensity{LaneID: lane.LaneID, Density: lane.Density})
		}
	}
	if len(summary.Congested) == 0 {
		return summary
	}
	summary.Triggered = true
	parts := make([]string, len(summary.Congested))
	for i, c := range summary.Congested {
		parts[i] = fmt.Sprintf("%s (Density: %d)", c.LaneID, c.Density)
	}
	summary.Message = fmt.Sprintf("HIGH CONGESTION ALERT in %s: %s!", area, strings.Join(parts, ", "))
	return summary
}
