package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"netmaster/internal/models"
)

const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 1000
)

type Repository struct {
	db *sql.DB
}

type HistoryFilter struct {
	HostID string
	From   *time.Time
	To     *time.Time
	Limit  int
}

type NotificationEvent struct {
	ID        int64
	AlertID   int64
	Channel   string
	Status    string
	Attempts  int
	LastError string
	SentAt    *time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *sql.DB { return r.db }

func (r *Repository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

const sampleColumns = `id,host_id,hostname,ts,cpu_percent,memory_percent,disk_percent,platform,architecture,process_count,uptime_seconds`

func (r *Repository) SaveSample(ctx context.Context, s models.Sample) (int64, error) {
	var procs sql.NullInt64
	if s.ProcessCount != nil {
		procs = sql.NullInt64{Int64: int64(*s.ProcessCount), Valid: true}
	}
	var uptime sql.NullFloat64
	if s.UptimeSeconds != nil {
		uptime = sql.NullFloat64{Float64: *s.UptimeSeconds, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO samples (host_id,hostname,ts,cpu_percent,memory_percent,disk_percent,platform,architecture,process_count,uptime_seconds,received_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.HostID, s.Hostname, s.Timestamp.UTC(), s.CPUPercent, s.MemoryPercent, s.DiskPercent,
		s.Platform, s.Architecture, procs, uptime, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestPerHost returns the newest sample of every host, newest first. When
// two samples of a host share the max timestamp the later insert wins.
func (r *Repository) LatestPerHost(ctx context.Context) ([]models.Sample, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT s.id,s.host_id,s.hostname,s.ts,s.cpu_percent,s.memory_percent,s.disk_percent,s.platform,s.architecture,s.process_count,s.uptime_seconds
		FROM samples s
		JOIN (SELECT host_id, MAX(ts) AS max_ts FROM samples GROUP BY host_id) m
			ON s.host_id = m.host_id AND s.ts = m.max_ts
		WHERE s.id = (SELECT MAX(x.id) FROM samples x WHERE x.host_id = s.host_id AND x.ts = s.ts)
		ORDER BY s.ts DESC, s.host_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func (r *Repository) History(ctx context.Context, f HistoryFilter) ([]models.Sample, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if f.HostID != "" {
		clauses = append(clauses, "host_id = ?")
		args = append(args, f.HostID)
	}
	if f.From != nil {
		clauses = append(clauses, "ts >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		clauses = append(clauses, "ts <= ?")
		args = append(args, f.To.UTC())
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE `+strings.Join(clauses, " AND ")+` ORDER BY ts DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

// RecentSince returns samples at or after since in ascending time order.
// An empty hostID matches every host.
func (r *Repository) RecentSince(ctx context.Context, hostID string, since time.Time) ([]models.Sample, error) {
	q := `SELECT ` + sampleColumns + ` FROM samples WHERE ts >= ?`
	args := []any{since.UTC()}
	if hostID != "" {
		q += ` AND host_id = ?`
		args = append(args, hostID)
	}
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY ts ASC, id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSamples(rows)
}

func scanSamples(rows *sql.Rows) ([]models.Sample, error) {
	out := []models.Sample{}
	for rows.Next() {
		var s models.Sample
		var procs sql.NullInt64
		var uptime sql.NullFloat64
		if err := rows.Scan(&s.ID, &s.HostID, &s.Hostname, &s.Timestamp, &s.CPUPercent, &s.MemoryPercent, &s.DiskPercent,
			&s.Platform, &s.Architecture, &procs, &uptime); err != nil {
			return nil, err
		}
		s.Timestamp = s.Timestamp.UTC()
		if procs.Valid {
			n := int(procs.Int64)
			s.ProcessCount = &n
		}
		if uptime.Valid {
			u := uptime.Float64
			s.UptimeSeconds = &u
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertThreshold(ctx context.Context, hostID, metric string, limit float64, enabled bool) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO thresholds (host_id,metric,limit_value,enabled,created_at,updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(host_id, metric) DO UPDATE SET limit_value=excluded.limit_value,enabled=excluded.enabled,updated_at=excluded.updated_at`,
		hostID, metric, limit, boolInt(enabled), now, now)
	return err
}

func (r *Repository) ListThresholds(ctx context.Context) ([]models.Threshold, error) {
	return r.queryThresholds(ctx, `SELECT host_id,metric,limit_value,enabled,created_at,updated_at FROM thresholds ORDER BY host_id, metric`)
}

// ThresholdsFor returns the enabled thresholds of one host.
func (r *Repository) ThresholdsFor(ctx context.Context, hostID string) ([]models.Threshold, error) {
	return r.queryThresholds(ctx, `SELECT host_id,metric,limit_value,enabled,created_at,updated_at FROM thresholds WHERE host_id = ? AND enabled = 1 ORDER BY metric`, hostID)
}

func (r *Repository) queryThresholds(ctx context.Context, q string, args ...any) ([]models.Threshold, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Threshold{}
	for rows.Next() {
		var t models.Threshold
		var enabled int
		if err := rows.Scan(&t.HostID, &t.Metric, &t.Limit, &enabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Enabled = enabled == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasRecentAlert reports whether a sent alert for host and metric exists
// with a timestamp after now-within.
func (r *Repository) HasRecentAlert(ctx context.Context, hostID, metric string, now time.Time, within time.Duration) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM alerts WHERE host_id = ? AND metric = ? AND status = 'sent' AND ts > ?`,
		hostID, metric, now.Add(-within).UTC()).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) SaveAlert(ctx context.Context, a models.Alert) (int64, error) {
	status := a.Status
	if status == "" {
		status = models.AlertSent
	}
	res, err := r.db.ExecContext(ctx, `INSERT INTO alerts (host_id,metric,observed_value,limit_value,ts,status) VALUES (?,?,?,?,?,?)`,
		a.HostID, a.Metric, a.ObservedValue, a.LimitValue, a.Timestamp.UTC(), status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListAlerts returns alerts newest first. An empty status returns all.
func (r *Repository) ListAlerts(ctx context.Context, status string, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	q := `SELECT id,host_id,metric,observed_value,limit_value,ts,status FROM alerts`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	args = append(args, limit)
	rows, err := r.db.QueryContext(ctx, q+` ORDER BY ts DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.HostID, &a.Metric, &a.ObservedValue, &a.LimitValue, &a.Timestamp, &a.Status); err != nil {
			return nil, err
		}
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// DismissAlert reports false when no sent alert has the id.
func (r *Repository) DismissAlert(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE alerts SET status='dismissed' WHERE id = ? AND status='sent'`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) InsertNotificationEvent(ctx context.Context, alertID int64, channel, status string, attempts int, lastErr string, sent *time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_events (alert_id,channel,status,attempts,last_error,sent_ts_nullable) VALUES (?,?,?,?,?,?)`, alertID, channel, status, attempts, nullString(lastErr), sent)
	return err
}

func (r *Repository) NotificationEvents(ctx context.Context, alertID int64) ([]NotificationEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id,alert_id,channel,status,attempts,last_error,sent_ts_nullable FROM notification_events WHERE alert_id = ? ORDER BY id`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []NotificationEvent{}
	for rows.Next() {
		var ev NotificationEvent
		var lastErr sql.NullString
		var sent sql.NullTime
		if err := rows.Scan(&ev.ID, &ev.AlertID, &ev.Channel, &ev.Status, &ev.Attempts, &lastErr, &sent); err != nil {
			return nil, err
		}
		ev.LastError = lastErr.String
		if sent.Valid {
			t := sent.Time.UTC()
			ev.SentAt = &t
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (r *Repository) UpsertNotificationConfig(ctx context.Context, typ string, cfg json.RawMessage, enabled bool) error {
	if len(cfg) == 0 {
		cfg = json.RawMessage(`{}`)
	}
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `INSERT INTO notification_config (type,config,enabled,created_at,updated_at)
		VALUES (?,?,?,?,?)
		ON CONFLICT(type) DO UPDATE SET config=excluded.config,enabled=excluded.enabled,updated_at=excluded.updated_at`,
		typ, string(cfg), boolInt(enabled), now, now)
	return err
}

// NotificationConfig returns nil without error when typ has no row.
func (r *Repository) NotificationConfig(ctx context.Context, typ string) (*models.NotificationConfig, error) {
	row := r.db.QueryRowContext(ctx, `SELECT type,config,enabled,created_at,updated_at FROM notification_config WHERE type = ?`, typ)
	nc, err := scanNotificationConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &nc, nil
}

func (r *Repository) ListNotificationConfigs(ctx context.Context) ([]models.NotificationConfig, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type,config,enabled,created_at,updated_at FROM notification_config ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.NotificationConfig{}
	for rows.Next() {
		nc, err := scanNotificationConfig(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotificationConfig(s scanner) (models.NotificationConfig, error) {
	var nc models.NotificationConfig
	var raw string
	var enabled int
	if err := s.Scan(&nc.Type, &raw, &enabled, &nc.CreatedAt, &nc.UpdatedAt); err != nil {
		return nc, err
	}
	nc.Config = json.RawMessage(raw)
	nc.Enabled = enabled == 1
	return nc, nil
}

// DeleteOlderThan prunes samples and dismissed alerts recorded before cutoff.
func (r *Repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	queries := []string{
		`DELETE FROM samples WHERE ts < ?`,
		`DELETE FROM alerts WHERE ts < ? AND status='dismissed'`,
	}
	var total int64
	for _, q := range queries {
		res, err := r.db.ExecContext(ctx, q, cutoff.UTC())
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	_, _ = r.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = r.db.ExecContext(ctx, `PRAGMA optimize`)
	return total, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
