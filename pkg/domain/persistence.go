package domain

import "context"

// Ledger is the durable store behind the engine: the lane sample time series,
// per-area thresholds and challans. Every method is its own atomic unit of
// work; no transaction spans two calls.
type Ledger interface {
	// RecordSamples appends one row per sample. Rows sharing a timestamp are legal.
	RecordSamples(ctx context.Context, area string, samples []LaneSample) error
	// QueryHistory returns up to q.Limit of the newest samples in ascending timestamp order.
	QueryHistory(ctx context.Context, q HistoryQuery) ([]LaneSample, error)
	// GetThreshold returns the area threshold or DefaultThreshold when unset.
	GetThreshold(ctx context.Context, area string) (uint, error)
	// SetThreshold replaces the area threshold in a single statement.
	SetThreshold(ctx context.Context, area string, maxDensity int) error
	// CreateChallan persists a challan in its issue status in one statement and
	// returns its new id.
	CreateChallan(ctx context.Context, draft ChallanDraft) (int64, error)
	// ListChallans returns the area's challans newest first. An empty status lists all.
	ListChallans(ctx context.Context, area string, status ChallanStatus) ([]Challan, error)
	// GetChallan returns a NotFoundError for unknown ids.
	GetChallan(ctx context.Context, id int64) (Challan, error)
	// UpdateChallanStatus mutates only the status field.
	UpdateChallanStatus(ctx context.Context, id int64, status ChallanStatus) error
	// CountChallans returns the number of stored challans across all areas.
	CountChallans(ctx context.Context) (int, error)
	Close() error
}

// ValidateThreshold rejects negative thresholds.
func ValidateThreshold(maxDensity int) error {
	if maxDensity < 0 {
		return InvalidInput("max_density", "must be >= 0, got %d", maxDensity)
	}
	return nil
}

// ValidateSamples checks that every sample belongs to area and carries the
// density derived from its counts.
func ValidateSamples(area string, samples []LaneSample) error {
	for _, s := range samples {
		if s.Area != area {
			return InvalidInput("area", "sample for %q recorded under %q", s.Area, area)
		}
		if s.LaneID == "" {
			return InvalidInput("lane_id", "lane id is required")
		}
		if s.Density != s.TwoWheelers+2*s.FourWheelers {
			return InvalidInput("density", "lane %s density %d does not match counts", s.LaneID, s.Density)
		}
	}
	return nil
}

// Validate checks a history query before it reaches a backend.
func (q HistoryQuery) Validate() error {
	if q.Area == "" {
		return InvalidInput("area", "area is required")
	}
	if q.Limit <= 0 {
		return InvalidInput("limit", "must be > 0, got %d", q.Limit)
	}
	return nil
}
