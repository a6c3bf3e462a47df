// Package ledgertest holds the behavioural contract every ledger backend must satisfy.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"trafficcore/pkg/domain"
)

// Opener returns a fresh, empty ledger. Implementations register cleanup on t.
type Opener func(t *testing.T) domain.Ledger

// Run executes the contract against ledgers produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, l domain.Ledger)
	}{
		{"ThresholdDefaultsAndUpserts", testThresholds},
		{"HistoryNewestWindowAscending", testHistoryWindow},
		{"HistoryLaneFilterAndIsolation", testHistoryFilter},
		{"RepeatedTimestampIsLegal", testRepeatedTimestamp},
		{"RecordSamplesRejectsBadBatch", testRejectBadSamples},
		{"HistoryRejectsNonPositiveLimit", testHistoryLimit},
		{"ChallanRoundTrip", testChallanRoundTrip},
		{"ChallanListOrderAndFilter", testChallanList},
		{"ChallanStatusUpdates", testChallanStatus},
		{"ChallanNumberUnique", testChallanConflict},
		{"ChallanIssuedInFinalStatus", testChallanIssueStatus},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

// Sample builds a consistent lane sample.
func Sample(area, lane string, ts time.Time, two, four uint) domain.LaneSample {
	return domain.LaneSample{
		Area:         area,
		LaneID:       lane,
		Timestamp:    ts,
		TwoWheelers:  two,
		FourWheelers: four,
		Density:      two + 2*four,
	}
}

// Draft builds a complete challan draft with a unique number derived from n.
func Draft(area, lane string, n int) domain.ChallanDraft {
	return domain.ChallanDraft{
		Area:          area,
		LaneID:        lane,
		ViolationType: domain.ViolationRedLight,
		VehicleNumber: "GJ06AB1234",
		OwnerName:     "Rajesh Patel",
		OwnerPhone:    "9876543210",
		VehicleType:   "Car",
		ChallanNumber: fmt.Sprintf("CHLN-2024-%08X", n),
		TransactionID: fmt.Sprintf("TXN-%012X", n),
		StateCode:     "GJ",
		FineAmount:    domain.FineFor(domain.ViolationRedLight),
	}
}

func testThresholds(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	got, err := l.GetThreshold(ctx, "Sayajigunj")
	if err != nil {
		t.Fatalf("get default: %v", err)
	}
	if got != domain.DefaultThreshold {
		t.Fatalf("expected default %d, got %d", domain.DefaultThreshold, got)
	}
	for _, v := range []int{80, 120, 0} {
		if err := l.SetThreshold(ctx, "Sayajigunj", v); err != nil {
			t.Fatalf("set %d: %v", v, err)
		}
		if got, _ := l.GetThreshold(ctx, "Sayajigunj"); got != uint(v) {
			t.Fatalf("expected %d after set, got %d", v, got)
		}
	}
	if got, _ := l.GetThreshold(ctx, "Alkapuri"); got != domain.DefaultThreshold {
		t.Fatalf("threshold leaked across areas: %d", got)
	}
	if err := l.SetThreshold(ctx, "Sayajigunj", -1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative threshold, got %v", err)
	}
}

func testHistoryWindow(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		ts := base.Add(time.Duration(i) * time.Second)
		batch := []domain.LaneSample{
			Sample("Manjalpur", "Lane 1", ts, uint(i), 1),
			Sample("Manjalpur", "Lane 2", ts, uint(i), 2),
		}
		if err := l.RecordSamples(ctx, "Manjalpur", batch); err != nil {
			t.Fatalf("record batch %d: %v", i, err)
		}
	}
	got, err := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Manjalpur", LaneID: "Lane 1", Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if !got[0].Timestamp.Equal(base.Add(time.Second)) || !got[1].Timestamp.Equal(base.Add(2*time.Second)) {
		t.Fatalf("expected newest two ascending, got %v then %v", got[0].Timestamp, got[1].Timestamp)
	}
	if got[1].TwoWheelers != 2 || got[1].Density != 4 {
		t.Fatalf("unexpected counts %+v", got[1])
	}
	if got[0].ID == 0 || got[0].ID == got[1].ID {
		t.Fatalf("expected distinct assigned ids, got %d and %d", got[0].ID, got[1].ID)
	}

	all, err := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Manjalpur", Limit: 100})
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Fatalf("history not ascending at %d", i)
		}
	}
}

func testHistoryFilter(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := l.RecordSamples(ctx, "Alkapuri", []domain.LaneSample{
		{Area: "Alkapuri", LaneID: "North", Timestamp: ts, TwoWheelers: 3, FourWheelers: 1, Density: 5, Emergency: true},
		{Area: "Alkapuri", LaneID: "South", Timestamp: ts, TwoWheelers: 0, FourWheelers: 0, Density: 0, VIP: true},
	}); err != nil {
		t.Fatalf("record: %v", err)
	}
	north, err := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Alkapuri", LaneID: "North", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(north) != 1 || !north[0].Emergency || north[0].VIP {
		t.Fatalf("unexpected north history %+v", north)
	}
	south, _ := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Alkapuri", LaneID: "South", Limit: 10})
	if len(south) != 1 || !south[0].VIP {
		t.Fatalf("unexpected south history %+v", south)
	}
	other, err := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Akota Bridge", Limit: 10})
	if err != nil {
		t.Fatalf("query other: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected no samples for untouched area, got %d", len(other))
	}
}

func testRepeatedTimestamp(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	for i := uint(1); i <= 2; i++ {
		batch := []domain.LaneSample{Sample("Fatehgunj", "Lane 1", ts, i, i)}
		if err := l.RecordSamples(ctx, "Fatehgunj", batch); err != nil {
			t.Fatalf("record batch %d: %v", i, err)
		}
	}
	got, err := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Fatehgunj", LaneID: "Lane 1", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected both rows for the repeated timestamp, got %d", len(got))
	}
	if got[0].ID == 0 || got[1].ID == 0 || got[0].ID == got[1].ID {
		t.Fatalf("expected distinct ids, got %d and %d", got[0].ID, got[1].ID)
	}
	for _, s := range got {
		if !s.Timestamp.Equal(ts) {
			t.Fatalf("timestamp %v changed from %v", s.Timestamp, ts)
		}
	}
	if got[0].TwoWheelers+got[1].TwoWheelers != 3 {
		t.Fatalf("expected one row per batch, got %+v", got)
	}
}

func testRejectBadSamples(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	bad := Sample("Sayajigunj", "Lane 2", ts, 1, 1)
	bad.Density = 99
	batch := []domain.LaneSample{Sample("Sayajigunj", "Lane 1", ts, 1, 1), bad}
	if err := l.RecordSamples(ctx, "Sayajigunj", batch); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	got, err := l.QueryHistory(ctx, domain.HistoryQuery{Area: "Sayajigunj", Limit: 10})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("rejected batch must store nothing, got %d rows", len(got))
	}
	mismatched := []domain.LaneSample{Sample("Alkapuri", "North", ts, 1, 1)}
	if err := l.RecordSamples(ctx, "Sayajigunj", mismatched); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for area mismatch, got %v", err)
	}
}

func testHistoryLimit(t *testing.T, l domain.Ledger) {
	_, err := l.QueryHistory(context.Background(), domain.HistoryQuery{Area: "Sayajigunj", Limit: 0})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero limit, got %v", err)
	}
}

func testChallanRoundTrip(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	draft := Draft("Sayajigunj", "Lane 2", 1)
	id, err := l.CreateChallan(ctx, draft)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("expected positive id, got %d", id)
	}
	got, err := l.GetChallan(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ChallanStatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	if got.Draft() != draft {
		t.Fatalf("draft mismatch:\nwant %+v\ngot  %+v", draft, got.Draft())
	}
	if got.Timestamp.IsZero() {
		t.Fatalf("expected ledger-assigned timestamp")
	}
	if _, err := l.GetChallan(ctx, id+1000); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	bad := draft
	bad.ChallanNumber = ""
	if _, err := l.CreateChallan(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for incomplete draft, got %v", err)
	}
	if n, err := l.CountChallans(ctx); err != nil || n != 1 {
		t.Fatalf("expected count 1, got %d (%v)", n, err)
	}
}

func testChallanList(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := l.CreateChallan(ctx, Draft("Alkapuri", "East", 10+i))
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if _, err := l.CreateChallan(ctx, Draft("Manjalpur", "Lane 1", 20)); err != nil {
		t.Fatalf("create other area: %v", err)
	}
	if err := l.UpdateChallanStatus(ctx, ids[1], domain.ChallanStatusPaid); err != nil {
		t.Fatalf("update: %v", err)
	}
	all, err := l.ListChallans(ctx, "Alkapuri", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 challans, got %d", len(all))
	}
	if all[0].ID != ids[2] || all[2].ID != ids[0] {
		t.Fatalf("expected newest first, got ids %d,%d,%d", all[0].ID, all[1].ID, all[2].ID)
	}
	paid, err := l.ListChallans(ctx, "Alkapuri", domain.ChallanStatusPaid)
	if err != nil {
		t.Fatalf("list paid: %v", err)
	}
	if len(paid) != 1 || paid[0].ID != ids[1] {
		t.Fatalf("unexpected paid list %+v", paid)
	}
	disputed, _ := l.ListChallans(ctx, "Alkapuri", domain.ChallanStatusDisputed)
	if len(disputed) != 0 {
		t.Fatalf("expected no disputed challans, got %d", len(disputed))
	}
	if _, err := l.ListChallans(ctx, "Alkapuri", domain.ChallanStatus("refunded")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown filter, got %v", err)
	}
	if n, _ := l.CountChallans(ctx); n != 4 {
		t.Fatalf("expected count 4, got %d", n)
	}
}

func testChallanStatus(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	id, err := l.CreateChallan(ctx, Draft("Fatehgunj Circle", "Lane 3", 30))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	before, _ := l.GetChallan(ctx, id)
	for i := 0; i < 2; i++ {
		if err := l.UpdateChallanStatus(ctx, id, domain.ChallanStatusPaid); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	after, _ := l.GetChallan(ctx, id)
	if after.Status != domain.ChallanStatusPaid {
		t.Fatalf("expected paid, got %s", after.Status)
	}
	if after.Draft() != before.Draft() || !after.Timestamp.Equal(before.Timestamp) {
		t.Fatalf("status update touched other fields")
	}
	if err := l.UpdateChallanStatus(ctx, id, domain.ChallanStatusDisputed); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := l.UpdateChallanStatus(ctx, id, domain.ChallanStatus("cancelled")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if got, _ := l.GetChallan(ctx, id); got.Status != domain.ChallanStatusDisputed {
		t.Fatalf("rejected update changed status to %s", got.Status)
	}
	if err := l.UpdateChallanStatus(ctx, id+1000, domain.ChallanStatusPaid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testChallanConflict(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	if _, err := l.CreateChallan(ctx, Draft("Sayajigunj", "Lane 1", 40)); err != nil {
		t.Fatalf("create: %v", err)
	}
	dup := Draft("Alkapuri", "West", 40)
	if _, err := l.CreateChallan(ctx, dup); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict for reused challan number, got %v", err)
	}
	if n, _ := l.CountChallans(ctx); n != 1 {
		t.Fatalf("conflicting insert must not persist, count %d", n)
	}
}

func testChallanIssueStatus(t *testing.T, l domain.Ledger) {
	ctx := context.Background()
	draft := Draft("Akota Bridge", "Lane A", 50)
	draft.InitialStatus = domain.ChallanStatusPaid
	id, err := l.CreateChallan(ctx, draft)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := l.GetChallan(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.ChallanStatusPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}
	if got.InitialStatus != "" {
		t.Fatalf("issue status leaked into the stored record: %q", got.InitialStatus)
	}
	paid, _ := l.ListChallans(ctx, "Akota Bridge", domain.ChallanStatusPaid)
	if len(paid) != 1 || paid[0].ID != id {
		t.Fatalf("expected the challan in the paid list, got %+v", paid)
	}

	bad := Draft("Akota Bridge", "Lane A", 51)
	bad.InitialStatus = domain.ChallanStatus("waived")
	if _, err := l.CreateChallan(ctx, bad); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown issue status, got %v", err)
	}
	if n, _ := l.CountChallans(ctx); n != 1 {
		t.Fatalf("rejected draft must not persist, count %d", n)
	}
}
