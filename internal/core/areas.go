package core

import (
	"strings"

	"trafficcore/pkg/domain"
)

// AreaRegistry holds the statically configured intersections in declaration order.
type AreaRegistry struct {
	order []string
	areas map[string]domain.Area
}

// NewAreaRegistry validates and indexes the supplied areas. An area without
// lanes, with a blank or duplicate lane, or declared twice is rejected.
func NewAreaRegistry(areas ...domain.Area) (*AreaRegistry, error) {
	reg := &AreaRegistry{areas: make(map[string]domain.Area, len(areas))}
	for _, area := range areas {
		name := strings.TrimSpace(area.Name)
		if name == "" {
			return nil, domain.InvalidInput("area", "area name is required")
		}
		if _, dup := reg.areas[name]; dup {
			return nil, domain.InvalidInput("area", "area %q declared twice", name)
		}
		if len(area.Lanes) == 0 {
			return nil, domain.InvalidInput("lanes", "area %q has no lanes configured", name)
		}
		seen := make(map[string]struct{}, len(area.Lanes))
		for _, lane := range area.Lanes {
			if strings.TrimSpace(lane) == "" {
				return nil, domain.InvalidInput("lanes", "area %q has a blank lane id", name)
			}
			if _, dup := seen[lane]; dup {
				return nil, domain.InvalidInput("lanes", "area %q lists lane %q twice", name, lane)
			}
			seen[lane] = struct{}{}
		}
		lanes := make([]string, len(area.Lanes))
		copy(lanes, area.Lanes)
		reg.areas[name] = domain.Area{Name: name, Lanes: lanes}
		reg.order = append(reg.order, name)
	}
	return reg, nil
}

// MustAreaRegistry is NewAreaRegistry for static configuration known to be valid.
func MustAreaRegistry(areas ...domain.Area) *AreaRegistry {
	reg, err := NewAreaRegistry(areas...)
	if err != nil {
		panic(err)
	}
	return reg
}

// DefaultAreas returns the Vadodara intersections the dashboard ships with.
func DefaultAreas() []domain.Area {
	return []domain.Area{
		{Name: "Sayajigunj", Lanes: []string{"Lane 1", "Lane 2", "Lane 3", "Lane 4"}},
		{Name: "Akota Bridge", Lanes: []string{"Lane A", "Lane B", "Lane C"}},
		{Name: "Alkapuri", Lanes: []string{"North", "South", "East", "West"}},
		{Name: "Fatehgunj Circle", Lanes: []string{"Lane 1", "Lane 2", "Lane 3"}},
		{Name: "Manjalpur", Lanes: []string{"Lane 1", "Lane 2"}},
	}
}

// Lookup returns a copy of the named area.
func (r *AreaRegistry) Lookup(name string) (domain.Area, bool) {
	area, ok := r.areas[name]
	if !ok {
		return domain.Area{}, false
	}
	lanes := make([]string, len(area.Lanes))
	copy(lanes, area.Lanes)
	return domain.Area{Name: area.Name, Lanes: lanes}, true
}

// Areas returns every configured area in declaration order.
func (r *AreaRegistry) Areas() []domain.Area {
	out := make([]domain.Area, 0, len(r.order))
	for _, name := range r.order {
		area, _ := r.Lookup(name)
		out = append(out, area)
	}
	return out
}
