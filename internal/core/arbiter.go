package core

import "trafficcore/pkg/domain"

// LaneState is the arbitration input for one lane in one cycle.
type LaneState struct {
	LaneID    string
	Density   uint
	Emergency bool
	VIP       bool
}

// Arbitrate picks the lane that receives right-of-way. lanes must be in the
// area's canonical order. Precedence: the first emergency lane, then the first
// VIP lane, then the lane with the strictly greatest density (an equal density
// later in the order never displaces the leader).
func Arbitrate(lanes []LaneState) (string, error) {
	if len(lanes) == 0 {
		return "", domain.InvalidInput("lanes", "area has no lanes configured")
	}
	for _, lane := range lanes {
		if lane.Emergency {
			return lane.LaneID, nil
		}
	}
	for _, lane := range lanes {
		if lane.VIP {
			return lane.LaneID, nil
		}
	}
	leader := lanes[0]
	for _, lane := range lanes[1:] {
		if lane.Density > leader.Density {
			leader = lane
		}
	}
	return leader.LaneID, nil
}
