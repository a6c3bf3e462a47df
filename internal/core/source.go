package core

import (
	"context"
	"math/rand/v2"
	"sync"

	"trafficcore/pkg/domain"
)

// SampleSource produces one reading per lane of an area for a cycle. The
// engine does not care whether counts come from simulation or detection, but
// the returned map must cover exactly the area's lanes.
type SampleSource interface {
	Sample(ctx context.Context, area domain.Area) (map[string]domain.LaneReading, error)
}

// SampleSourceFunc adapts a function to SampleSource.
type SampleSourceFunc func(ctx context.Context, area domain.Area) (map[string]domain.LaneReading, error)

// Sample implements SampleSource.
func (f SampleSourceFunc) Sample(ctx context.Context, area domain.Area) (map[string]domain.LaneReading, error) {
	return f(ctx, area)
}

// FixedSource replays the same readings for an area on every cycle.
type FixedSource map[string]map[string]domain.LaneReading

// Sample implements SampleSource.
func (f FixedSource) Sample(_ context.Context, area domain.Area) (map[string]domain.LaneReading, error) {
	readings, ok := f[area.Name]
	if !ok {
		return nil, domain.NotFound(domain.EntityArea, area.Name)
	}
	out := make(map[string]domain.LaneReading, len(readings))
	for lane, r := range readings {
		out[lane] = r
	}
	return out, nil
}

// NewRand returns a deterministic random source for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SimulatedSource draws plausible counts from a seeded random source. Negative
// maxima are treated as zero.
type SimulatedSource struct {
	mu  sync.Mutex
	rng *rand.Rand

	MaxTwoWheelers  int
	MaxFourWheelers int
	EmergencyRate   float64
	VIPRate         float64
}

// NewSimulatedSource constructs a simulator with the dashboard defaults.
func NewSimulatedSource(rng *rand.Rand) *SimulatedSource {
	return &SimulatedSource{
		rng:             rng,
		MaxTwoWheelers:  80,
		MaxFourWheelers: 60,
		EmergencyRate:   0.03,
		VIPRate:         0.05,
	}
}

// Sample implements SampleSource.
func (s *SimulatedSource) Sample(_ context.Context, area domain.Area) (map[string]domain.LaneReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.LaneReading, len(area.Lanes))
	for _, lane := range area.Lanes {
		out[lane] = domain.LaneReading{
			TwoWheelers:  s.rng.IntN(max(s.MaxTwoWheelers, 0) + 1),
			FourWheelers: s.rng.IntN(max(s.MaxFourWheelers, 0) + 1),
			Emergency:    s.rng.Float64() < s.EmergencyRate,
			VIP:          s.rng.Float64() < s.VIPRate,
		}
	}
	return out, nil
}
