package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"trafficcore/pkg/domain"
)

func TestSimulatedSourceIsSeedable(t *testing.T) {
	area := DefaultAreas()[0]
	a, _ := NewSimulatedSource(NewRand(42)).Sample(context.Background(), area)
	b, _ := NewSimulatedSource(NewRand(42)).Sample(context.Background(), area)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different readings")
	}
	if len(a) != len(area.Lanes) {
		t.Fatalf("expected %d lanes, got %d", len(area.Lanes), len(a))
	}
	for lane, r := range a {
		if !area.HasLane(lane) {
			t.Fatalf("unexpected lane %s", lane)
		}
		if r.TwoWheelers < 0 || r.TwoWheelers > 80 || r.FourWheelers < 0 || r.FourWheelers > 60 {
			t.Fatalf("reading out of range: %+v", r)
		}
	}
}

func TestFixedSourceCopiesAndReportsMissingArea(t *testing.T) {
	src := FixedSource{"Manjalpur": {"Lane 1": {TwoWheelers: 1}, "Lane 2": {FourWheelers: 2}}}
	got, err := src.Sample(context.Background(), domain.Area{Name: "Manjalpur"})
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	got["Lane 1"] = domain.LaneReading{TwoWheelers: 99}
	if src["Manjalpur"]["Lane 1"].TwoWheelers != 1 {
		t.Fatalf("fixed source leaked its map")
	}
	if _, err := src.Sample(context.Background(), domain.Area{Name: "Gotri"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSimulatedSourceClampsNegativeMaxima(t *testing.T) {
	src := NewSimulatedSource(NewRand(7))
	src.MaxTwoWheelers = -5
	src.MaxFourWheelers = -1
	area := DefaultAreas()[0]
	got, err := src.Sample(context.Background(), area)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	for lane, r := range got {
		if r.TwoWheelers != 0 || r.FourWheelers != 0 {
			t.Fatalf("lane %s: expected zero counts, got %+v", lane, r)
		}
	}
}
