package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"trafficcore/internal/blob"
	"trafficcore/pkg/domain"
)

// JobStatus describes the lifecycle stage of a document job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// ErrQueueFull is returned by Enqueue when the worker backlog is saturated.
var ErrQueueFull = errors.New("documents: queue full")

const queueSize = 32

// Artifact describes an archived document.
type Artifact struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Job tracks one document request.
type Job struct {
	ID          string     `json:"id"`
	ChallanID   int64      `json:"challan_id"`
	Kind        Kind       `json:"kind"`
	Format      Format     `json:"format"`
	Status      JobStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	Artifact    *Artifact  `json:"artifact,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Request is an enqueue request for the worker.
type Request struct {
	ChallanID int64
	Kind      Kind
	Format    Format
}

// ChallanResolver loads the challan a job renders.
type ChallanResolver interface {
	Challan(ctx context.Context, id int64) (domain.Challan, error)
}

// AuditLogger records document job transitions.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

// AuditEntry captures one job transition.
type AuditEntry struct {
	JobID      string    `json:"job_id"`
	Action     string    `json:"action"`
	ChallanID  int64     `json:"challan_id"`
	Kind       Kind      `json:"kind"`
	Status     JobStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Option configures a Worker.
type Option func(*Worker)

// WithAuditLogger sets the audit sink for job transitions.
func WithAuditLogger(a AuditLogger) Option {
	return func(w *Worker) {
		if a != nil {
			w.audit = a
		}
	}
}

// WithNow overrides the clock used for timestamps and archive keys.
func WithNow(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// WithURLExpiry sets the lifetime of presigned artifact URLs.
func WithURLExpiry(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.urlExpiry = d
		}
	}
}

// Worker renders and archives documents asynchronously.
type Worker struct {
	resolver  ChallanResolver
	store     blob.Store
	audit     AuditLogger
	now       func() time.Time
	urlExpiry time.Duration

	queue chan string
	mu    sync.RWMutex
	jobs  map[string]*Job

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type nopAudit struct{}

func (nopAudit) Record(context.Context, AuditEntry) {}

// NewWorker constructs a document worker.
func NewWorker(resolver ChallanResolver, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		resolver:  resolver,
		store:     store,
		audit:     nopAudit{},
		now:       func() time.Time { return time.Now().UTC() },
		urlExpiry: 15 * time.Minute,
		queue:     make(chan string, queueSize),
		jobs:      make(map[string]*Job),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins processing queued jobs.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop signals the worker to halt and waits for the current job to finish.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates the request and schedules a job, returning its queued snapshot.
func (w *Worker) Enqueue(ctx context.Context, req Request) (Job, error) {
	if w.resolver == nil || w.store == nil {
		return Job{}, fmt.Errorf("document worker not configured")
	}
	if req.ChallanID <= 0 {
		return Job{}, domain.InvalidInput("challan_id", "must be > 0")
	}
	if req.Kind != KindNotice && req.Kind != KindReceipt {
		return Job{}, domain.InvalidInput("kind", "unsupported document kind %q", req.Kind)
	}
	if req.Format != FormatText && req.Format != FormatJSON {
		return Job{}, domain.InvalidInput("format", "unsupported document format %q", req.Format)
	}
	if err := ctx.Err(); err != nil {
		return Job{}, err
	}

	now := w.now()
	job := &Job{
		ID:        uuid.NewString(),
		ChallanID: req.ChallanID,
		Kind:      req.Kind,
		Format:    req.Format,
		Status:    JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}

	w.mu.Lock()
	w.jobs[job.ID] = job
	w.mu.Unlock()

	select {
	case w.queue <- job.ID:
	default:
		w.mu.Lock()
		delete(w.jobs, job.ID)
		w.mu.Unlock()
		return Job{}, ErrQueueFull
	}

	snapshot := *job
	w.record(ctx, "documents.enqueue", snapshot)
	return snapshot, nil
}

// Get returns a snapshot of the job.
func (w *Worker) Get(id string) (Job, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	job, ok := w.jobs[id]
	if !ok {
		return Job{}, false
	}
	snapshot := *job
	if job.Artifact != nil {
		a := *job.Artifact
		snapshot.Artifact = &a
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		snapshot.CompletedAt = &t
	}
	return snapshot, true
}

func (w *Worker) process(id string) {
	w.mu.RLock()
	job, ok := w.jobs[id]
	var req Request
	if ok {
		req = Request{ChallanID: job.ChallanID, Kind: job.Kind, Format: job.Format}
	}
	w.mu.RUnlock()
	if !ok {
		return
	}

	w.updateStatus(id, JobStatusRunning, "")

	challan, err := w.resolver.Challan(w.ctx, req.ChallanID)
	if err != nil {
		w.fail(id, err)
		return
	}
	now := w.now()
	doc, err := Render(challan, req.Kind, req.Format, now)
	if err != nil {
		w.fail(id, err)
		return
	}

	key := ArchiveKey(challan, req.Kind, req.Format, now)
	info, err := w.store.Put(w.ctx, key, bytes.NewReader(doc.Body), blob.PutOptions{
		ContentType: doc.ContentType,
		Metadata: map[string]string{
			"challan_id":     strconv.FormatInt(challan.ID, 10),
			"challan_number": challan.ChallanNumber,
			"kind":           string(req.Kind),
		},
	})
	if err != nil {
		w.fail(id, fmt.Errorf("store document: %w", err))
		return
	}

	url := info.URL
	signed, err := w.store.PresignURL(w.ctx, info.Key, blob.SignedURLOptions{Expiry: w.urlExpiry})
	switch {
	case err == nil:
		url = signed
	case !errors.Is(err, blob.ErrUnsupported):
		w.fail(id, fmt.Errorf("presign document: %w", err))
		return
	}

	w.complete(id, Artifact{
		Key:         info.Key,
		ContentType: doc.ContentType,
		SizeBytes:   info.Size,
		URL:         url,
		CreatedAt:   now,
	})
}

// ArchiveKey returns the blob key a rendered document is stored under.
func ArchiveKey(c domain.Challan, kind Kind, format Format, at time.Time) string {
	return fmt.Sprintf("challans/%s/%d/%s-%s.%s",
		c.Area, c.ID, kind, at.UTC().Format("20060102T150405.000000000Z"), format.Extension())
}

func (w *Worker) updateStatus(id string, status JobStatus, errMsg string) {
	w.mu.Lock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	job.Status = status
	job.Error = errMsg
	job.UpdatedAt = w.now()
	snapshot := *job
	w.mu.Unlock()

	w.record(w.ctx, "documents.status", snapshot)
}

func (w *Worker) complete(id string, artifact Artifact) {
	w.mu.Lock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	now := w.now()
	job.Status = JobStatusSucceeded
	job.Artifact = &artifact
	job.UpdatedAt = now
	job.CompletedAt = &now
	snapshot := *job
	w.mu.Unlock()

	w.record(w.ctx, "documents.complete", snapshot)
}

func (w *Worker) fail(id string, err error) {
	w.mu.Lock()
	job, ok := w.jobs[id]
	if !ok {
		w.mu.Unlock()
		return
	}
	now := w.now()
	job.Status = JobStatusFailed
	job.Error = err.Error()
	job.UpdatedAt = now
	job.CompletedAt = &now
	snapshot := *job
	w.mu.Unlock()

	w.record(w.ctx, "documents.fail", snapshot)
}

func (w *Worker) record(ctx context.Context, action string, job Job) {
	w.audit.Record(ctx, AuditEntry{
		JobID:      job.ID,
		Action:     action,
		ChallanID:  job.ChallanID,
		Kind:       job.Kind,
		Status:     job.Status,
		Error:      job.Error,
		OccurredAt: w.now(),
	})
}
