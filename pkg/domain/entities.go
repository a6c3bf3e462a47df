// Package domain defines the persistent entities, value types, error kinds and
// storage contract used by trafficcore.
package domain

import (
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in errors and audit entries.
const (
	// EntityArea identifies a configured intersection.
	EntityArea EntityType = "area"
	// EntityLane identifies a lane within an area.
	EntityLane EntityType = "lane"
	// EntitySample identifies a lane sample row.
	EntitySample EntityType = "sample"
	// EntityThreshold identifies an area alert threshold.
	EntityThreshold EntityType = "threshold"
	// EntityChallan identifies a violation record.
	EntityChallan EntityType = "challan"
)

// DefaultThreshold is the alert density used for areas without a stored threshold.
const DefaultThreshold uint = 150

// Area is a statically configured intersection. Lanes is the canonical lane
// order: arbitration tie-breaks and display both follow it.
type Area struct {
	Name  string   `json:"name"`
	Lanes []string `json:"lanes"`
}

// HasLane reports whether laneID belongs to the area.
func (a Area) HasLane(laneID string) bool {
	for _, lane := range a.Lanes {
		if lane == laneID {
			return true
		}
	}
	return false
}

// LaneReading is the raw per-lane input produced by a sample source for one cycle.
type LaneReading struct {
	TwoWheelers  int  `json:"two_wheelers"`
	FourWheelers int  `json:"four_wheelers"`
	Emergency    bool `json:"is_emergency"`
	VIP          bool `json:"is_vip"`
}

// LaneSample is one immutable row of the traffic time series.
type LaneSample struct {
	ID           int64     `json:"id,omitempty"`
	Area         string    `json:"area"`
	LaneID       string    `json:"lane_id"`
	Timestamp    time.Time `json:"timestamp"`
	TwoWheelers  uint      `json:"two_wheelers"`
	FourWheelers uint      `json:"four_wheelers"`
	Density      uint      `json:"density"`
	Emergency    bool      `json:"is_emergency"`
	VIP          bool      `json:"is_vip"`
}

// HistoryQuery selects the most recent samples of an area, optionally for one lane.
type HistoryQuery struct {
	Area   string
	LaneID string
	Limit  int
}

// ChallanStatus enumerates the challan payment lifecycle.
type ChallanStatus string

// Recognised challan statuses.
const (
	ChallanStatusPending  ChallanStatus = "pending"
	ChallanStatusPaid     ChallanStatus = "paid"
	ChallanStatusDisputed ChallanStatus = "disputed"
)

// Valid reports whether s is one of the recognised statuses.
func (s ChallanStatus) Valid() bool {
	switch s {
	case ChallanStatusPending, ChallanStatusPaid, ChallanStatusDisputed:
		return true
	}
	return false
}

// ParseChallanStatus normalises raw input into a recognised status.
func ParseChallanStatus(raw string) (ChallanStatus, error) {
	status := ChallanStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", InvalidInput("status", "unrecognised challan status %q", raw)
	}
	return status, nil
}

// ParseStatusFilter accepts an empty value or "all" as no filter.
func ParseStatusFilter(raw string) (ChallanStatus, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.EqualFold(trimmed, "all") {
		return "", nil
	}
	return ParseChallanStatus(trimmed)
}

// Violator describes a vehicle and its registered owner.
type Violator struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicle_number"`
	VehicleType   string `json:"vehicle_type"`
}

// ChallanDraft carries every field of a challan chosen at detection time. The
// ledger assigns id and timestamp. InitialStatus is pending when empty and is
// not part of the stored record.
type ChallanDraft struct {
	Area          string        `json:"area"`
	LaneID        string        `json:"lane_id"`
	ViolationType ViolationType `json:"violation_type"`
	VehicleNumber string        `json:"vehicle_number"`
	OwnerName     string        `json:"owner_name"`
	OwnerPhone    string        `json:"owner_phone"`
	VehicleType   string        `json:"vehicle_type"`
	ChallanNumber string        `json:"challan_number"`
	TransactionID string        `json:"transaction_id"`
	StateCode     string        `json:"state_code"`
	FineAmount    uint          `json:"fine_amount"`

	InitialStatus ChallanStatus `json:"-"`
}

// IssueStatus returns the status a new challan is inserted with.
func (d ChallanDraft) IssueStatus() ChallanStatus {
	if d.InitialStatus == "" {
		return ChallanStatusPending
	}
	return d.InitialStatus
}

// Validate checks that a draft is complete before it reaches a ledger.
func (d ChallanDraft) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"area", d.Area},
		{"lane_id", d.LaneID},
		{"violation_type", string(d.ViolationType)},
		{"vehicle_number", d.VehicleNumber},
		{"owner_name", d.OwnerName},
		{"challan_number", d.ChallanNumber},
		{"transaction_id", d.TransactionID},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return InvalidInput(r.field, "%s is required", r.field)
		}
	}
	if d.InitialStatus != "" && !d.InitialStatus.Valid() {
		return InvalidInput("status", "unrecognised challan status %q", d.InitialStatus)
	}
	return nil
}

// Challan is a persisted violation record.
type Challan struct {
	ID        int64         `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Status    ChallanStatus `json:"status"`
	ChallanDraft
}

// Draft returns the creation payload embedded in the challan.
func (c Challan) Draft() ChallanDraft { return c.ChallanDraft }
