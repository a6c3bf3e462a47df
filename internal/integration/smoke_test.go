package integration

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trafficcore/internal/blob"
	"trafficcore/internal/core"
	"trafficcore/internal/documents"
	"trafficcore/internal/infra/persistence/sqlite"
	"trafficcore/pkg/domain"
)

// TestIntegrationSmoke runs a cycle that issues a challan, pays it and
// archives the receipt, for every in-process ledger and blob driver.
func TestIntegrationSmoke(t *testing.T) {
	ctx := context.Background()

	ledgerVariants := []struct {
		name string
		open func(t *testing.T) domain.Ledger
	}{
		{
			name: "memory-ledger",
			open: func(_ *testing.T) domain.Ledger { return core.NewMemoryLedger() },
		},
		{
			name: "sqlite-ledger",
			open: func(t *testing.T) domain.Ledger {
				s, err := sqlite.NewStore(filepath.Join(t.TempDir(), "traffic.db"))
				if err != nil {
					t.Fatalf("new sqlite store: %v", err)
				}
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
	}

	blobVariants := []struct {
		name string
		open func(t *testing.T) blob.Store
	}{
		{
			name: "memory-blob",
			open: func(_ *testing.T) blob.Store { return blob.NewMemory() },
		},
		{
			name: "filesystem-blob",
			open: func(t *testing.T) blob.Store {
				fs, err := blob.NewFilesystem(t.TempDir())
				if err != nil {
					t.Fatalf("new filesystem blob: %v", err)
				}
				return fs
			},
		},
		{
			name: "mock-s3-blob",
			open: func(_ *testing.T) blob.Store { return blob.NewMockS3ForTests() },
		},
	}

	for _, lv := range ledgerVariants {
		for _, bv := range blobVariants {
			t.Run(lv.name+"/"+bv.name, func(t *testing.T) {
				var traceBuffer bytes.Buffer
				tracer := core.NewJSONTracer(&traceBuffer)
				svc := core.NewService(lv.open(t),
					core.WithTracer(tracer),
					core.WithSampleSource(core.NewSimulatedSource(core.NewRand(3))),
					core.WithViolationDetector(core.NewViolationDetector(core.NewRand(4), core.WithViolationProbability(1))),
				)

				result, err := svc.RunCycle(ctx, "Sayajigunj")
				if err != nil {
					t.Fatalf("run cycle: %v", err)
				}
				if result.Challan == nil || result.GreenLane == "" {
					t.Fatalf("expected a challan and a green lane, got %+v", result)
				}
				history, err := svc.History(ctx, "Sayajigunj", "", 0)
				if err != nil || len(history) != 4 {
					t.Fatalf("history: %v %d", err, len(history))
				}

				paid, err := svc.UpdateChallanStatus(ctx, result.Challan.ID, "paid")
				if err != nil || paid.Status != domain.ChallanStatusPaid {
					t.Fatalf("pay challan: %v %+v", err, paid)
				}

				store := bv.open(t)
				worker := documents.NewWorker(svc, store)
				worker.Start()
				t.Cleanup(func() { _ = worker.Stop(context.Background()) })

				job, err := worker.Enqueue(ctx, documents.Request{ChallanID: paid.ID, Kind: documents.KindReceipt, Format: documents.FormatText})
				if err != nil {
					t.Fatalf("enqueue: %v", err)
				}
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					job, _ = worker.Get(job.ID)
					if job.Status == documents.JobStatusSucceeded || job.Status == documents.JobStatusFailed {
						break
					}
					time.Sleep(10 * time.Millisecond)
				}
				if job.Status != documents.JobStatusSucceeded {
					t.Fatalf("document job: %+v", job)
				}

				_, rc, err := store.Get(ctx, job.Artifact.Key)
				if err != nil {
					t.Fatalf("get artifact: %v", err)
				}
				body, _ := io.ReadAll(rc)
				_ = rc.Close()
				if !strings.Contains(string(body), paid.ChallanNumber) || !strings.Contains(string(body), "Payment Receipt") {
					t.Fatalf("unexpected receipt:\n%s", body)
				}

				if traceBuffer.Len() == 0 {
					t.Fatalf("expected trace exporter to emit spans")
				}
				var sawCycle bool
				for _, entry := range tracer.Entries() {
					if entry.Operation == "run_cycle" && entry.Status == "success" {
						sawCycle = true
					}
				}
				if !sawCycle {
					t.Fatalf("expected run_cycle span, got %+v", tracer.Entries())
				}
			})
		}
	}
}
