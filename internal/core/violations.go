package core

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"trafficcore/pkg/domain"
)

// DefaultViolationProbability is the per-cycle chance that a violation occurs somewhere in an area.
const DefaultViolationProbability = 0.05

// ViolationDetector decides whether a cycle produced a violation and builds
// the challan payload for it. Violators are drawn from a finite pool without
// repetition until the pool is exhausted. The detector owns its random source
// and used-set; a mutex serialises concurrent cycles.
type ViolationDetector struct {
	mu          sync.Mutex
	rng         *rand.Rand
	probability float64
	pool        []domain.Violator
	used        map[int]struct{}
	last        int
}

// DetectorOption configures a ViolationDetector.
type DetectorOption func(*ViolationDetector)

// WithViolationProbability overrides the per-cycle violation probability.
func WithViolationProbability(p float64) DetectorOption {
	return func(d *ViolationDetector) {
		switch {
		case p < 0:
			p = 0
		case p > 1:
			p = 1
		}
		d.probability = p
	}
}

// WithViolatorPool replaces the violator pool. An empty pool makes the
// detector synthesize registrations and placeholder owners.
func WithViolatorPool(pool []domain.Violator) DetectorOption {
	return func(d *ViolationDetector) {
		d.pool = append([]domain.Violator(nil), pool...)
	}
}

// NewViolationDetector constructs a detector drawing from rng.
func NewViolationDetector(rng *rand.Rand, opts ...DetectorOption) *ViolationDetector {
	d := &ViolationDetector{
		rng:         rng,
		probability: DefaultViolationProbability,
		pool:        DefaultViolators(),
		used:        make(map[int]struct{}),
		last:        -1,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect draws the per-cycle Bernoulli event and, when it fires, returns a
// fully populated draft for a uniformly chosen lane and violation type.
func (d *ViolationDetector) Detect(area domain.Area, now time.Time) (domain.ChallanDraft, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(area.Lanes) == 0 || d.rng.Float64() >= d.probability {
		return domain.ChallanDraft{}, false
	}
	return d.synthesize(area, now), true
}

// Synthesize builds a violation draft unconditionally. Seeding uses it.
func (d *ViolationDetector) Synthesize(area domain.Area, now time.Time) (domain.ChallanDraft, error) {
	if len(area.Lanes) == 0 {
		return domain.ChallanDraft{}, domain.InvalidInput("lanes", "area %q has no lanes configured", area.Name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.synthesize(area, now), nil
}

// Renumber returns draft with a freshly drawn challan number and transaction id.
func (d *ViolationDetector) Renumber(draft domain.ChallanDraft, now time.Time) domain.ChallanDraft {
	d.mu.Lock()
	defer d.mu.Unlock()
	draft.ChallanNumber, draft.TransactionID = d.identifiers(now)
	return draft
}

// Reset forgets which violators have been drawn.
func (d *ViolationDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.used = make(map[int]struct{})
	d.last = -1
}

// Float64 exposes the detector's random source to callers that must share its sequence.
func (d *ViolationDetector) Float64() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64()
}

func (d *ViolationDetector) synthesize(area domain.Area, now time.Time) domain.ChallanDraft {
	catalog := domain.ViolationTypes()
	violation := catalog[d.rng.IntN(len(catalog))]
	lane := area.Lanes[d.rng.IntN(len(area.Lanes))]
	violator := d.nextViolator()
	number, txn := d.identifiers(now)
	return domain.ChallanDraft{
		Area:          area.Name,
		LaneID:        lane,
		ViolationType: violation,
		VehicleNumber: violator.VehicleNumber,
		OwnerName:     violator.Name,
		OwnerPhone:    violator.Phone,
		VehicleType:   violator.VehicleType,
		ChallanNumber: number,
		TransactionID: txn,
		StateCode:     StateCode(violator.VehicleNumber),
		FineAmount:    domain.FineFor(violation),
	}
}

func (d *ViolationDetector) nextViolator() domain.Violator {
	if len(d.pool) == 0 {
		return d.randomViolator()
	}
	if len(d.used) >= len(d.pool) {
		d.used = make(map[int]struct{})
	}
	candidates := make([]int, 0, len(d.pool)-len(d.used))
	for i := range d.pool {
		if _, taken := d.used[i]; taken {
			continue
		}
		// first draw after a reset must not repeat the previous pick
		if len(d.used) == 0 && i == d.last && len(d.pool) > 1 {
			continue
		}
		candidates = append(candidates, i)
	}
	idx := candidates[d.rng.IntN(len(candidates))]
	d.used[idx] = struct{}{}
	d.last = idx
	return d.pool[idx]
}

var (
	fallbackStates       = []string{"GJ", "MH", "RJ", "MP"}
	fallbackVehicleTypes = []string{"Motorcycle", "Scooter", "Car", "Auto Rickshaw"}
)

func (d *ViolationDetector) randomViolator() domain.Violator {
	plate := fmt.Sprintf("%s%02d%c%c%04d",
		fallbackStates[d.rng.IntN(len(fallbackStates))],
		d.rng.IntN(38)+1,
		'A'+rune(d.rng.IntN(26)),
		'A'+rune(d.rng.IntN(26)),
		d.rng.IntN(10000),
	)
	return domain.Violator{
		Name:          "Unknown Owner",
		Phone:         "N/A",
		VehicleNumber: plate,
		VehicleType:   fallbackVehicleTypes[d.rng.IntN(len(fallbackVehicleTypes))],
	}
}

// identifiers derives the challan number and transaction id from one UUID
// read off the detector's random source, so seeded runs replay exactly.
func (d *ViolationDetector) identifiers(now time.Time) (string, string) {
	id, err := uuid.NewRandomFromReader(randReader{d.rng})
	if err != nil {
		id = uuid.New()
	}
	raw := strings.ToUpper(hex.EncodeToString(id[:]))
	return fmt.Sprintf("CHLN-%d-%s", now.Year(), raw[:8]), "TXN-" + raw[8:20]
}

type randReader struct{ rng *rand.Rand }

func (r randReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r.rng.UintN(256))
	}
	return len(p), nil
}

// StateCode returns the registering state prefix of a vehicle number.
func StateCode(vehicleNumber string) string {
	cleaned := strings.ToUpper(strings.ReplaceAll(vehicleNumber, " ", ""))
	if len(cleaned) < 2 {
		return "NA"
	}
	prefix := cleaned[:2]
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return "NA"
		}
	}
	return prefix
}

// DefaultViolators is the registered-owner pool used by the simulator.
func DefaultViolators() []domain.Violator {
	return []domain.Violator{
		{Name: "Aarav Sharma", Phone: "9876543210", VehicleNumber: "GJ06AB1234", VehicleType: "Motorcycle"},
		{Name: "Aditi Patel", Phone: "9988776655", VehicleNumber: "GJ06CD5678", VehicleType: "Car"},
		{Name: "Vivaan Singh", Phone: "9123456789", VehicleNumber: "GJ06EF9012", VehicleType: "Motorcycle"},
		{Name: "Diya Mehta", Phone: "9898989898", VehicleNumber: "GJ06GH3456", VehicleType: "Scooter"},
		{Name: "Kabir Desai", Phone: "9825012345", VehicleNumber: "GJ01JK7890", VehicleType: "Car"},
		{Name: "Ananya Joshi", Phone: "9909123456", VehicleNumber: "GJ05LM2345", VehicleType: "Scooter"},
		{Name: "Rohan Shah", Phone: "9712345678", VehicleNumber: "MH12NP6789", VehicleType: "Car"},
		{Name: "Isha Trivedi", Phone: "9687654321", VehicleNumber: "GJ06QR0123", VehicleType: "Motorcycle"},
		{Name: "Arjun Parmar", Phone: "9558123456", VehicleNumber: "RJ14ST4567", VehicleType: "Truck"},
		{Name: "Meera Bhatt", Phone: "9426123456", VehicleNumber: "GJ06UV8901", VehicleType: "Car"},
	}
}
