package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"trafficcore/pkg/domain"
)

const (
	// DefaultHistoryLimit bounds History when the caller passes zero.
	DefaultHistoryLimit = 100
	// DefaultLaneHistoryLimit bounds each lane series of LaneHistory.
	DefaultLaneHistoryLimit = 30

	challanNumberAttempts = 5
)

// Signal states reported per lane in a cycle result.
const (
	SignalGreen = "GREEN"
	SignalRed   = "RED"
)

// LaneResult is one lane's view of a completed cycle.
type LaneResult struct {
	LaneID       string `json:"lane_id"`
	TwoWheelers  uint   `json:"two_wheelers"`
	FourWheelers uint   `json:"four_wheelers"`
	Density      uint   `json:"density"`
	Emergency    bool   `json:"is_emergency"`
	VIP          bool   `json:"is_vip"`
	Signal       string `json:"signal_status"`
}

// CycleResult consolidates one arbitration cycle.
type CycleResult struct {
	Area      string          `json:"area"`
	Timestamp time.Time       `json:"timestamp"`
	Lanes     []LaneResult    `json:"lanes"`
	GreenLane string          `json:"green_lane"`
	Alert     AlertSummary    `json:"alert"`
	Challan   *domain.Challan `json:"challan,omitempty"`
}

// Densities returns lane densities in canonical order.
func (r CycleResult) Densities() []uint {
	out := make([]uint, len(r.Lanes))
	for i, lane := range r.Lanes {
		out[i] = lane.Density
	}
	return out
}

// LaneSeries is the ascending sample history of one lane.
type LaneSeries struct {
	LaneID  string              `json:"lane_id"`
	Samples []domain.LaneSample `json:"samples"`
}

// Service runs arbitration cycles and exposes the ledger query surface.
type Service struct {
	ledger   domain.Ledger
	areas    *AreaRegistry
	source   SampleSource
	detector *ViolationDetector

	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	clock   Clock
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(m MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithTracer sets the span tracer.
func WithTracer(t Tracer) ServiceOption {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a AuditRecorder) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithClock overrides the wall clock used for sample timestamps.
func WithClock(c Clock) ServiceOption {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithAreas replaces the configured intersections.
func WithAreas(r *AreaRegistry) ServiceOption {
	return func(s *Service) {
		if r != nil {
			s.areas = r
		}
	}
}

// WithSampleSource replaces the producer of lane readings.
func WithSampleSource(src SampleSource) ServiceOption {
	return func(s *Service) {
		if src != nil {
			s.source = src
		}
	}
}

// WithViolationDetector replaces the violation detector.
func WithViolationDetector(d *ViolationDetector) ServiceOption {
	return func(s *Service) {
		if d != nil {
			s.detector = d
		}
	}
}

// NewService constructs a service over ledger. Without options it serves the
// default areas from a simulated source seeded from the clock.
func NewService(ledger domain.Ledger, opts ...ServiceOption) *Service {
	s := &Service{
		ledger:  ledger,
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		audit:   noopAuditRecorder{},
		clock:   ClockFunc(nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.areas == nil {
		s.areas = MustAreaRegistry(DefaultAreas()...)
	}
	seed := uint64(time.Now().UnixNano())
	if s.source == nil {
		s.source = NewSimulatedSource(NewRand(seed))
	}
	if s.detector == nil {
		s.detector = NewViolationDetector(NewRand(seed + 1))
	}
	return s
}

// NewInMemoryService constructs a service over a fresh in-memory ledger.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(NewMemoryLedger(), opts...)
}

// Ledger returns the underlying ledger.
func (s *Service) Ledger() domain.Ledger { return s.ledger }

// Areas returns the configured intersections in declaration order.
func (s *Service) Areas() []domain.Area { return s.areas.Areas() }

// ResetViolators clears the detector's record of drawn violators.
func (s *Service) ResetViolators() { s.detector.Reset() }

// RunCycle performs one arbitration cycle for the named area: sample, compute
// densities, pick the green lane, log samples, maybe record a challan, and
// evaluate congestion. An unknown area fails before anything is persisted.
func (s *Service) RunCycle(ctx context.Context, areaName string) (CycleResult, error) {
	var result CycleResult
	err := s.instrument(ctx, "run_cycle", areaName, func(ctx context.Context) (string, error) {
		area, ok := s.areas.Lookup(areaName)
		if !ok {
			return "", domain.NotFound(domain.EntityArea, areaName)
		}
		readings, err := s.source.Sample(ctx, area)
		if err != nil {
			return "", fmt.Errorf("sample %s: %w", area.Name, err)
		}
		if len(readings) != len(area.Lanes) {
			return "", domain.InvalidInput("lanes", "sample source returned %d lanes for %s, want %d", len(readings), area.Name, len(area.Lanes))
		}

		now := s.clock.Now()
		states := make([]LaneState, 0, len(area.Lanes))
		samples := make([]domain.LaneSample, 0, len(area.Lanes))
		lanes := make([]LaneResult, 0, len(area.Lanes))
		for _, laneID := range area.Lanes {
			r, ok := readings[laneID]
			if !ok {
				return "", domain.InvalidInput("lanes", "sample source omitted lane %q of %s", laneID, area.Name)
			}
			density, err := Density(r.TwoWheelers, r.FourWheelers)
			if err != nil {
				return "", fmt.Errorf("lane %s: %w", laneID, err)
			}
			states = append(states, LaneState{LaneID: laneID, Density: density, Emergency: r.Emergency, VIP: r.VIP})
			samples = append(samples, domain.LaneSample{
				Area:         area.Name,
				LaneID:       laneID,
				Timestamp:    now,
				TwoWheelers:  uint(r.TwoWheelers),
				FourWheelers: uint(r.FourWheelers),
				Density:      density,
				Emergency:    r.Emergency,
				VIP:          r.VIP,
			})
			lanes = append(lanes, LaneResult{
				LaneID:       laneID,
				TwoWheelers:  uint(r.TwoWheelers),
				FourWheelers: uint(r.FourWheelers),
				Density:      density,
				Emergency:    r.Emergency,
				VIP:          r.VIP,
				Signal:       SignalRed,
			})
		}

		green, err := Arbitrate(states)
		if err != nil {
			return "", err
		}
		for i := range lanes {
			if lanes[i].LaneID == green {
				lanes[i].Signal = SignalGreen
			}
		}

		if err := s.ledger.RecordSamples(ctx, area.Name, samples); err != nil {
			return "", fmt.Errorf("record samples: %w", err)
		}

		var issued *domain.Challan
		if draft, ok := s.detector.Detect(area, now); ok {
			id, err := s.createChallan(ctx, draft, now)
			if err != nil {
				return "", fmt.Errorf("create challan: %w", err)
			}
			challan, err := s.ledger.GetChallan(ctx, id)
			if err != nil {
				return "", fmt.Errorf("load challan %d: %w", id, err)
			}
			issued = &challan
			s.logger.Info("challan issued",
				"area", area.Name,
				"lane", challan.LaneID,
				"challan_id", challan.ID,
				"challan_number", challan.ChallanNumber,
				"violation", challan.ViolationType,
				"fine", challan.FineAmount,
			)
		}

		threshold, err := s.ledger.GetThreshold(ctx, area.Name)
		if err != nil {
			return "", fmt.Errorf("threshold %s: %w", area.Name, err)
		}
		alert := EvaluateAlerts(area.Name, threshold, states)
		if alert.Triggered {
			s.logger.Warn("congestion alert", "area", area.Name, "threshold", threshold, "lanes", alert.Lanes())
		}

		result = CycleResult{
			Area:      area.Name,
			Timestamp: now,
			Lanes:     lanes,
			GreenLane: green,
			Alert:     alert,
			Challan:   issued,
		}
		s.logger.Debug("cycle complete", "area", area.Name, "green_lane", green)
		return green, nil
	})
	if err != nil {
		return CycleResult{}, err
	}
	if obs, ok := s.metrics.(CycleObserver); ok {
		obs.ObserveCycle(result)
	}
	return result, nil
}

// History returns up to limit of the newest samples of an area, optionally
// restricted to one lane, in ascending timestamp order.
func (s *Service) History(ctx context.Context, areaName, laneID string, limit int) ([]domain.LaneSample, error) {
	var out []domain.LaneSample
	err := s.instrument(ctx, "query_history", areaName, func(ctx context.Context) (string, error) {
		area, err := s.resolveArea(areaName)
		if err != nil {
			return "", err
		}
		if laneID != "" && !area.HasLane(laneID) {
			return "", domain.NotFound(domain.EntityLane, laneID)
		}
		if limit, err = normalizeLimit(limit, DefaultHistoryLimit); err != nil {
			return "", err
		}
		out, err = s.ledger.QueryHistory(ctx, domain.HistoryQuery{Area: area.Name, LaneID: laneID, Limit: limit})
		return laneID, err
	})
	return out, err
}

// LaneHistory returns one ascending series per lane in canonical order. Lanes
// are queried concurrently.
func (s *Service) LaneHistory(ctx context.Context, areaName string, limit int) ([]LaneSeries, error) {
	var out []LaneSeries
	err := s.instrument(ctx, "lane_history", areaName, func(ctx context.Context) (string, error) {
		area, err := s.resolveArea(areaName)
		if err != nil {
			return "", err
		}
		if limit, err = normalizeLimit(limit, DefaultLaneHistoryLimit); err != nil {
			return "", err
		}
		series := make([]LaneSeries, len(area.Lanes))
		g, gctx := errgroup.WithContext(ctx)
		for i, laneID := range area.Lanes {
			g.Go(func() error {
				samples, err := s.ledger.QueryHistory(gctx, domain.HistoryQuery{Area: area.Name, LaneID: laneID, Limit: limit})
				if err != nil {
					return fmt.Errorf("history %s/%s: %w", area.Name, laneID, err)
				}
				series[i] = LaneSeries{LaneID: laneID, Samples: samples}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return "", err
		}
		out = series
		return "", nil
	})
	return out, err
}

// Threshold returns the congestion threshold of an area.
func (s *Service) Threshold(ctx context.Context, areaName string) (uint, error) {
	var threshold uint
	err := s.instrument(ctx, "get_threshold", areaName, func(ctx context.Context) (string, error) {
		area, err := s.resolveArea(areaName)
		if err != nil {
			return "", err
		}
		threshold, err = s.ledger.GetThreshold(ctx, area.Name)
		return "", err
	})
	return threshold, err
}

// SetThreshold replaces the congestion threshold of an area.
func (s *Service) SetThreshold(ctx context.Context, areaName string, maxDensity int) error {
	return s.instrument(ctx, "set_threshold", areaName, func(ctx context.Context) (string, error) {
		area, err := s.resolveArea(areaName)
		if err != nil {
			return "", err
		}
		if err := domain.ValidateThreshold(maxDensity); err != nil {
			return "", err
		}
		if err := s.ledger.SetThreshold(ctx, area.Name, maxDensity); err != nil {
			return "", err
		}
		s.logger.Info("threshold updated", "area", area.Name, "max_density", maxDensity)
		return strconv.Itoa(maxDensity), nil
	})
}

// Challans lists an area's challans newest first. status may be empty or "all".
func (s *Service) Challans(ctx context.Context, areaName, status string) ([]domain.Challan, error) {
	var out []domain.Challan
	err := s.instrument(ctx, "list_challans", areaName, func(ctx context.Context) (string, error) {
		area, err := s.resolveArea(areaName)
		if err != nil {
			return "", err
		}
		filter, err := domain.ParseStatusFilter(status)
		if err != nil {
			return "", err
		}
		out, err = s.ledger.ListChallans(ctx, area.Name, filter)
		return "", err
	})
	return out, err
}

// Challan returns a single challan.
func (s *Service) Challan(ctx context.Context, id int64) (domain.Challan, error) {
	var out domain.Challan
	err := s.instrument(ctx, "get_challan", "", func(ctx context.Context) (string, error) {
		var err error
		out, err = s.ledger.GetChallan(ctx, id)
		return formatID(id), err
	})
	return out, err
}

// UpdateChallanStatus moves a challan to a recognised status and returns the updated record.
func (s *Service) UpdateChallanStatus(ctx context.Context, id int64, status string) (domain.Challan, error) {
	var out domain.Challan
	err := s.instrument(ctx, "update_challan_status", "", func(ctx context.Context) (string, error) {
		next, err := domain.ParseChallanStatus(status)
		if err != nil {
			return formatID(id), err
		}
		if err := s.ledger.UpdateChallanStatus(ctx, id, next); err != nil {
			return formatID(id), err
		}
		out, err = s.ledger.GetChallan(ctx, id)
		if err != nil {
			return formatID(id), err
		}
		s.logger.Info("challan status updated", "challan_id", id, "status", next)
		return formatID(id), nil
	})
	return out, err
}

// SeedChallans gives an empty ledger two challans per area so dashboards have
// something to show: the first pending, the second pending or paid at random.
// It returns the number of challans created.
func (s *Service) SeedChallans(ctx context.Context) (int, error) {
	created := 0
	err := s.instrument(ctx, "seed_challans", "", func(ctx context.Context) (string, error) {
		count, err := s.ledger.CountChallans(ctx)
		if err != nil {
			return "", err
		}
		if count > 0 {
			return "", nil
		}
		now := s.clock.Now()
		for _, area := range s.areas.Areas() {
			for i := 0; i < 2; i++ {
				draft, err := s.detector.Synthesize(area, now)
				if err != nil {
					return "", err
				}
				if i == 1 && s.detector.Float64() < 0.5 {
					draft.InitialStatus = domain.ChallanStatusPaid
				}
				if _, err := s.createChallan(ctx, draft, now); err != nil {
					return "", fmt.Errorf("seed %s: %w", area.Name, err)
				}
				created++
			}
		}
		s.logger.Info("seeded initial challans", "count", created)
		return strconv.Itoa(created), nil
	})
	return created, err
}

// createChallan inserts draft, drawing a fresh challan number whenever the
// ledger already holds the current one.
func (s *Service) createChallan(ctx context.Context, draft domain.ChallanDraft, now time.Time) (int64, error) {
	for attempt := 1; ; attempt++ {
		id, err := s.ledger.CreateChallan(ctx, draft)
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt == challanNumberAttempts {
			return id, err
		}
		s.logger.Warn("challan number taken, renumbering", "challan_number", draft.ChallanNumber, "attempt", attempt)
		draft = s.detector.Renumber(draft, now)
	}
}

func (s *Service) resolveArea(name string) (domain.Area, error) {
	area, ok := s.areas.Lookup(name)
	if !ok {
		return domain.Area{}, domain.NotFound(domain.EntityArea, name)
	}
	return area, nil
}

func (s *Service) instrument(ctx context.Context, op, area string, fn func(context.Context) (string, error)) error {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op)
	entityID, err := fn(ctx)
	span.End(err)
	duration := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	entry := AuditEntry{
		Operation:  op,
		Area:       area,
		EntityID:   entityID,
		Status:     AuditStatusSuccess,
		Duration:   duration,
		OccurredAt: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Debug("operation failed", "operation", op, "area", area, "error", err)
	}
	s.audit.Record(ctx, entry)
	return err
}

func normalizeLimit(limit, fallback int) (int, error) {
	switch {
	case limit < 0:
		return 0, domain.InvalidInput("limit", "must be >= 0, got %d", limit)
	case limit == 0:
		return fallback, nil
	}
	return limit, nil
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
