// Package sqlstore implements the ledger over database/sql. Backends supply a
// Dialect describing their schema, placeholder style and constraint errors.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"trafficcore/pkg/domain"
)

var _ domain.Ledger = (*Store)(nil)

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect captures what differs between SQL backends.
type Dialect struct {
	// Name labels errors.
	Name string
	// Schema lists idempotent DDL statements applied on open.
	Schema []string
	// Numbered rewrites ? placeholders into $1, $2, ...
	Numbered bool
	// IsUniqueViolation classifies constraint failures on insert.
	IsUniqueViolation func(error) bool
}

// Store is a ledger backed by a *sql.DB.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open applies the dialect schema and returns a ready store.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	for _, stmt := range dialect.Schema {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s: apply schema: %w", dialect.Name, err)
		}
	}
	return &Store{db: db, dialect: dialect, now: func() time.Time { return time.Now().UTC() }}, nil
}

// DB exposes the underlying handle for tests and health checks.
func (s *Store) DB() *sql.DB { return s.db }

// SetClock overrides the clock used for challan timestamps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) q(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RecordSamples inserts every sample inside one transaction.
func (s *Store) RecordSamples(ctx context.Context, area string, samples []domain.LaneSample) (retErr error) {
	if err := domain.ValidateSamples(area, samples); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", s.dialect.Name, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, s.q(`INSERT INTO traffic_samples
		(area, lane_id, recorded_at, two_wheelers, four_wheelers, density, is_emergency, is_vip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("%s: prepare sample insert: %w", s.dialect.Name, err)
	}
	defer func() { _ = stmt.Close() }()
	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx,
			sample.Area,
			sample.LaneID,
			formatTime(sample.Timestamp),
			int64(sample.TwoWheelers),
			int64(sample.FourWheelers),
			int64(sample.Density),
			sample.Emergency,
			sample.VIP,
		); err != nil {
			return fmt.Errorf("%s: insert sample %s: %w", s.dialect.Name, sample.LaneID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", s.dialect.Name, err)
	}
	return nil
}

// QueryHistory selects the newest q.Limit rows and returns them oldest first.
func (s *Store) QueryHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.LaneSample, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	query := `SELECT id, area, lane_id, recorded_at, two_wheelers, four_wheelers, density, is_emergency, is_vip
		FROM traffic_samples WHERE area = ?`
	args := []any{q.Area}
	if q.LaneID != "" {
		query += ` AND lane_id = ?`
		args = append(args, q.LaneID)
	}
	query += ` ORDER BY recorded_at DESC, id DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query history: %w", s.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]domain.LaneSample, 0, q.Limit)
	for rows.Next() {
		var (
			sample             domain.LaneSample
			recorded           string
			two, four, density int64
		)
		if err := rows.Scan(&sample.ID, &sample.Area, &sample.LaneID, &recorded, &two, &four, &density, &sample.Emergency, &sample.VIP); err != nil {
			return nil, fmt.Errorf("%s: scan sample: %w", s.dialect.Name, err)
		}
		if sample.Timestamp, err = parseTime(recorded); err != nil {
			return nil, err
		}
		sample.TwoWheelers, sample.FourWheelers, sample.Density = uint(two), uint(four), uint(density)
		out = append(out, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate history: %w", s.dialect.Name, err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// GetThreshold returns the stored threshold or domain.DefaultThreshold.
func (s *Store) GetThreshold(ctx context.Context, area string) (uint, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, s.q(`SELECT max_density FROM alert_thresholds WHERE area = ?`), area).Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.DefaultThreshold, nil
	case err != nil:
		return 0, fmt.Errorf("%s: get threshold: %w", s.dialect.Name, err)
	}
	return uint(v), nil
}

// SetThreshold upserts the area threshold in a single statement.
func (s *Store) SetThreshold(ctx context.Context, area string, maxDensity int) error {
	if err := domain.ValidateThreshold(maxDensity); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO alert_thresholds (area, max_density) VALUES (?, ?)
		ON CONFLICT (area) DO UPDATE SET max_density = excluded.max_density`), area, maxDensity)
	if err != nil {
		return fmt.Errorf("%s: set threshold: %w", s.dialect.Name, err)
	}
	return nil
}

const challanColumns = `id, issued_at, area, lane_id, violation_type, vehicle_number, owner_name,
	owner_phone, vehicle_type, challan_number, transaction_id, state_code, fine_amount, status`

// CreateChallan inserts a challan in its issue status and returns the generated id.
func (s *Store) CreateChallan(ctx context.Context, draft domain.ChallanDraft) (int64, error) {
	if err := draft.Validate(); err != nil {
		return 0, err
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO challans
		(issued_at, area, lane_id, violation_type, vehicle_number, owner_name, owner_phone,
		 vehicle_type, challan_number, transaction_id, state_code, fine_amount, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		formatTime(s.now()),
		draft.Area,
		draft.LaneID,
		string(draft.ViolationType),
		draft.VehicleNumber,
		draft.OwnerName,
		draft.OwnerPhone,
		draft.VehicleType,
		draft.ChallanNumber,
		draft.TransactionID,
		draft.StateCode,
		int64(draft.FineAmount),
		string(draft.IssueStatus()),
	).Scan(&id)
	if err != nil {
		if s.dialect.IsUniqueViolation != nil && s.dialect.IsUniqueViolation(err) {
			return 0, domain.ConflictError{Entity: domain.EntityChallan, Key: draft.ChallanNumber}
		}
		return 0, fmt.Errorf("%s: insert challan: %w", s.dialect.Name, err)
	}
	return id, nil
}

// ListChallans returns an area's challans newest first.
func (s *Store) ListChallans(ctx context.Context, area string, status domain.ChallanStatus) ([]domain.Challan, error) {
	if status != "" && !status.Valid() {
		return nil, domain.InvalidInput("status", "unrecognised challan status %q", status)
	}
	query := `SELECT ` + challanColumns + ` FROM challans WHERE area = ?`
	args := []any{area}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY issued_at DESC, id DESC`
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("%s: list challans: %w", s.dialect.Name, err)
	}
	defer func() { _ = rows.Close() }()
	out := make([]domain.Challan, 0)
	for rows.Next() {
		c, err := scanChallan(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan challan: %w", s.dialect.Name, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate challans: %w", s.dialect.Name, err)
	}
	return out, nil
}

// GetChallan returns a NotFoundError for unknown ids.
func (s *Store) GetChallan(ctx context.Context, id int64) (domain.Challan, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+challanColumns+` FROM challans WHERE id = ?`), id)
	c, err := scanChallan(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.Challan{}, domain.NotFound(domain.EntityChallan, strconv.FormatInt(id, 10))
	case err != nil:
		return domain.Challan{}, fmt.Errorf("%s: get challan: %w", s.dialect.Name, err)
	}
	return c, nil
}

// UpdateChallanStatus mutates only the status column.
func (s *Store) UpdateChallanStatus(ctx context.Context, id int64, status domain.ChallanStatus) error {
	if !status.Valid() {
		return domain.InvalidInput("status", "unrecognised challan status %q", status)
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE challans SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return fmt.Errorf("%s: update challan: %w", s.dialect.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: update challan: %w", s.dialect.Name, err)
	}
	if n == 0 {
		return domain.NotFound(domain.EntityChallan, strconv.FormatInt(id, 10))
	}
	return nil
}

// CountChallans returns the number of stored challans.
func (s *Store) CountChallans(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM challans`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: count challans: %w", s.dialect.Name, err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChallan(row scanner) (domain.Challan, error) {
	var (
		c                domain.Challan
		issued           string
		violation, state string
		status           string
		fine             int64
	)
	if err := row.Scan(
		&c.ID,
		&issued,
		&c.Area,
		&c.LaneID,
		&violation,
		&c.VehicleNumber,
		&c.OwnerName,
		&c.OwnerPhone,
		&c.VehicleType,
		&c.ChallanNumber,
		&c.TransactionID,
		&state,
		&fine,
		&status,
	); err != nil {
		return domain.Challan{}, err
	}
	ts, err := parseTime(issued)
	if err != nil {
		return domain.Challan{}, err
	}
	c.Timestamp = ts
	c.ViolationType = domain.ViolationType(violation)
	c.StateCode = state
	c.FineAmount = uint(fine)
	c.Status = domain.ChallanStatus(status)
	return c, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
