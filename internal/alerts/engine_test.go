package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmaster/internal/apperr"
	"netmaster/internal/db"
	"netmaster/internal/logger"
	"netmaster/internal/models"
	"netmaster/internal/notifier"
)

type stubSender struct {
	name  string
	calls int
	fail  int
	msgs  []notifier.Message
}

func (s *stubSender) Name() string { return s.name }

func (s *stubSender) Send(_ context.Context, msg notifier.Message) error {
	s.calls++
	s.msgs = append(s.msgs, msg)
	if s.calls <= s.fail {
		return errors.New("smtp: connection refused")
	}
	return nil
}

type stubNotifier struct {
	senders []notifier.Sender
}

func (n stubNotifier) Senders(context.Context) ([]notifier.Sender, error) { return n.senders, nil }

func newTestEngine(t *testing.T, senders ...notifier.Sender) (*Engine, *db.Repository, *time.Time) {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = sqldb.Close() })
	if err := db.Migrate(sqldb); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	repo := db.NewRepository(sqldb)
	engine := NewEngine(repo, stubNotifier{senders: senders}, logger.Nop())
	now := time.Date(2026, 2, 21, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	engine.sleep = func(time.Duration) {}
	return engine, repo, &now
}

func sample(cpu, mem float64, at time.Time) models.Sample {
	return models.Sample{HostID: "10.0.0.5", Hostname: "PC1", Timestamp: at, CPUPercent: cpu, MemoryPercent: mem, DiskPercent: 10}
}

func TestEvaluateFiresOnceWithinCooldown(t *testing.T) {
	mail := &stubSender{name: "email"}
	engine, repo, now := newTestEngine(t, mail)
	ctx := context.Background()
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "cpu", 80, true))

	fired, err := engine.Evaluate(ctx, sample(95, 50, *now))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, 95.0, fired[0].ObservedValue)
	assert.Equal(t, 80.0, fired[0].LimitValue)
	assert.Equal(t, 1, mail.calls)
	assert.Equal(t, "PC1", mail.msgs[0].Hostname)

	*now = now.Add(30 * time.Minute)
	fired, err = engine.Evaluate(ctx, sample(95, 50, *now))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, 1, mail.calls)

	*now = now.Add(31 * time.Minute)
	fired, err = engine.Evaluate(ctx, sample(90, 50, *now))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, 2, mail.calls)

	all, err := repo.ListAlerts(ctx, models.AlertSent, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestEvaluateIgnoresDisabledAndUnbreached(t *testing.T) {
	mail := &stubSender{name: "email"}
	engine, repo, now := newTestEngine(t, mail)
	ctx := context.Background()
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "cpu", 80, false))
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "memory", 60, true))
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.9", "memory", 10, true))

	fired, err := engine.Evaluate(ctx, sample(99, 60, *now))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Zero(t, mail.calls)
}

// Dropping back under the limit is silent and does not reset the cooldown.
func TestEvaluateHasNoRecoveryEvent(t *testing.T) {
	mail := &stubSender{name: "email"}
	engine, repo, now := newTestEngine(t, mail)
	ctx := context.Background()
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "cpu", 80, true))

	_, err := engine.Evaluate(ctx, sample(95, 10, *now))
	require.NoError(t, err)
	*now = now.Add(time.Minute)
	fired, err := engine.Evaluate(ctx, sample(20, 10, *now))
	require.NoError(t, err)
	assert.Empty(t, fired)
	*now = now.Add(time.Minute)
	fired, err = engine.Evaluate(ctx, sample(95, 10, *now))
	require.NoError(t, err)
	assert.Empty(t, fired)
	assert.Equal(t, 1, mail.calls)
}

func TestEvaluateNotifierFailureKeepsAlert(t *testing.T) {
	mail := &stubSender{name: "email", fail: 3}
	chat := &stubSender{name: "telegram"}
	engine, repo, now := newTestEngine(t, mail, chat)
	ctx := context.Background()
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "cpu", 80, true))

	fired, err := engine.Evaluate(ctx, sample(95, 10, *now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &apperr.Error{Kind: apperr.KindNotification}))
	require.Len(t, fired, 1)
	assert.Equal(t, 3, mail.calls)
	assert.Equal(t, 1, chat.calls)

	stored, err := repo.ListAlerts(ctx, models.AlertSent, 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	events, err := repo.NotificationEvents(ctx, fired[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "failed", events[0].Status)
	assert.Equal(t, 3, events[0].Attempts)
	assert.Equal(t, "sent", events[1].Status)
}

func TestEvaluateRetriesUntilDelivered(t *testing.T) {
	mail := &stubSender{name: "email", fail: 2}
	engine, repo, now := newTestEngine(t, mail)
	ctx := context.Background()
	var slept []time.Duration
	engine.sleep = func(d time.Duration) { slept = append(slept, d) }
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "memory", 50, true))

	fired, err := engine.Evaluate(ctx, sample(10, 70, *now))
	require.NoError(t, err)
	require.Len(t, fired, 1)
	assert.Equal(t, 3, mail.calls)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 600 * time.Millisecond}, slept)
}

type cooldownFailStore struct {
	*db.Repository
	metric string
}

func (s cooldownFailStore) HasRecentAlert(ctx context.Context, hostID, metric string, now time.Time, within time.Duration) (bool, error) {
	if metric == s.metric {
		return false, errors.New("database is locked")
	}
	return s.Repository.HasRecentAlert(ctx, hostID, metric, now, within)
}

func TestEvaluateDispatchesSavedAlertWhenSiblingFails(t *testing.T) {
	mail := &stubSender{name: "email"}
	engine, repo, now := newTestEngine(t, mail)
	engine.store = cooldownFailStore{Repository: repo, metric: models.MetricMemory}
	ctx := context.Background()
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "cpu", 80, true))
	require.NoError(t, repo.UpsertThreshold(ctx, "10.0.0.5", "memory", 40, true))

	fired, err := engine.Evaluate(ctx, sample(95, 70, *now))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &apperr.Error{Kind: apperr.KindStore}))
	assert.False(t, errors.Is(err, &apperr.Error{Kind: apperr.KindNotification}))
	require.Len(t, fired, 1)
	assert.Equal(t, models.MetricCPU, fired[0].Metric)
	assert.Equal(t, 1, mail.calls)

	events, err := repo.NotificationEvents(ctx, fired[0].ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "sent", events[0].Status)
}
