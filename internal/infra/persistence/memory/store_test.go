package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"trafficcore/internal/infra/persistence/ledgertest"
	"trafficcore/pkg/domain"
)

func TestLedgerContract(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T) domain.Ledger {
		return NewStore()
	})
}

func TestChallanTimestampUsesClock(t *testing.T) {
	store := NewStore()
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
	store.SetClock(func() time.Time { return fixed })
	id, err := store.CreateChallan(context.Background(), ledgertest.Draft("Sayajigunj", "Lane 1", 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, _ := store.GetChallan(context.Background(), id)
	if !got.Timestamp.Equal(fixed) {
		t.Fatalf("expected %v, got %v", fixed, got.Timestamp)
	}
}

func TestConcurrentRecordAndQuery(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sample := ledgertest.Sample("Manjalpur", "Lane 1", ts.Add(time.Duration(i)*time.Second), uint(i), 0)
			if err := store.RecordSamples(ctx, "Manjalpur", []domain.LaneSample{sample}); err != nil {
				t.Errorf("record: %v", err)
			}
			if _, err := store.QueryHistory(ctx, domain.HistoryQuery{Area: "Manjalpur", Limit: 5}); err != nil {
				t.Errorf("query: %v", err)
			}
		}(i)
	}
	wg.Wait()
	got, _ := store.QueryHistory(ctx, domain.HistoryQuery{Area: "Manjalpur", Limit: 100})
	if len(got) != 8 {
		t.Fatalf("expected 8 samples, got %d", len(got))
	}
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStore().CountChallans(ctx); err == nil {
		t.Fatalf("expected context error")
	}
}
