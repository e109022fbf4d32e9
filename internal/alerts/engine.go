package alerts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"netmaster/internal/apperr"
	"netmaster/internal/logger"
	"netmaster/internal/models"
	"netmaster/internal/notifier"
)

const (
	Cooldown       = time.Hour
	notifyAttempts = 3
)

type Store interface {
	ThresholdsFor(ctx context.Context, hostID string) ([]models.Threshold, error)
	HasRecentAlert(ctx context.Context, hostID, metric string, now time.Time, within time.Duration) (bool, error)
	SaveAlert(ctx context.Context, a models.Alert) (int64, error)
	InsertNotificationEvent(ctx context.Context, alertID int64, channel, status string, attempts int, lastErr string, sent *time.Time) error
}

type Notifier interface {
	Senders(ctx context.Context) ([]notifier.Sender, error)
}

type Engine struct {
	store  Store
	notify Notifier
	log    *logger.Logger
	now    func() time.Time
	sleep  func(time.Duration)

	// mu serializes the cooldown check with the alert insert.
	mu sync.Mutex
}

func NewEngine(store Store, notify Notifier, log *logger.Logger) *Engine {
	return &Engine{store: store, notify: notify, log: log, now: time.Now, sleep: time.Sleep}
}

// Evaluate checks a stored sample against the host's enabled thresholds.
// A breach outside the cooldown is persisted as a sent alert and then
// dispatched. A value back under its limit produces nothing; there is no
// recovery event. Delivery failures never undo the persisted alert and are
// returned as an apperr notification error next to the created alerts.
func (e *Engine) Evaluate(ctx context.Context, s models.Sample) ([]models.Alert, error) {
	thresholds, err := e.store.ThresholdsFor(ctx, s.HostID)
	if err != nil {
		return nil, apperr.Store(fmt.Errorf("load thresholds: %w", err))
	}
	var fired []models.Alert
	var storeErrs []error
	for _, t := range thresholds {
		if !t.Enabled || !models.ValidMetric(t.Metric) {
			continue
		}
		v := s.Value(t.Metric)
		if v <= t.Limit {
			continue
		}
		a, ok, err := e.fire(ctx, s, t, v)
		if err != nil {
			e.log.Error("persist alert", "host", s.HostID, "metric", t.Metric, "err", err)
			storeErrs = append(storeErrs, fmt.Errorf("%s: %w", t.Metric, err))
			continue
		}
		if ok {
			e.log.Warn("threshold exceeded", "host", s.HostID, "metric", t.Metric, "value", v, "threshold", t.Limit, "alert_id", a.ID)
			fired = append(fired, a)
		}
	}

	// every persisted alert is dispatched, even when a sibling failed to save
	var notifyErrs []error
	for _, a := range fired {
		if err := e.dispatch(ctx, a, s.Hostname); err != nil {
			notifyErrs = append(notifyErrs, err)
		}
	}
	var errs []error
	if len(storeErrs) > 0 {
		errs = append(errs, apperr.Store(errors.Join(storeErrs...)))
	}
	if len(notifyErrs) > 0 {
		errs = append(errs, apperr.Notification(errors.Join(notifyErrs...)))
	}
	return fired, errors.Join(errs...)
}

func (e *Engine) fire(ctx context.Context, s models.Sample, t models.Threshold, v float64) (models.Alert, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.now().UTC()
	recent, err := e.store.HasRecentAlert(ctx, s.HostID, t.Metric, now, Cooldown)
	if err != nil {
		return models.Alert{}, false, fmt.Errorf("check cooldown: %w", err)
	}
	if recent {
		e.log.Debug("alert in cooldown", "host", s.HostID, "metric", t.Metric)
		return models.Alert{}, false, nil
	}
	a := models.Alert{HostID: s.HostID, Metric: t.Metric, ObservedValue: v, LimitValue: t.Limit, Timestamp: now, Status: models.AlertSent}
	id, err := e.store.SaveAlert(ctx, a)
	if err != nil {
		return models.Alert{}, false, fmt.Errorf("save alert: %w", err)
	}
	a.ID = id
	return a, true, nil
}

func (e *Engine) dispatch(ctx context.Context, a models.Alert, hostname string) error {
	senders, err := e.notify.Senders(ctx)
	if err != nil {
		e.log.Warn("notification config", "err", err)
	}
	if len(senders) == 0 {
		if err != nil {
			return err
		}
		e.log.Info("no notification channel enabled", "alert_id", a.ID)
		return nil
	}
	msg := notifier.AlertMessage(a, hostname)
	var errs []error
	for _, s := range senders {
		if err := e.sendNotification(ctx, a.ID, s, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) sendNotification(ctx context.Context, alertID int64, s notifier.Sender, msg notifier.Message) error {
	attempts := 0
	var err error
	for attempts < notifyAttempts {
		attempts++
		err = s.Send(ctx, msg)
		if err == nil {
			now := e.now().UTC()
			_ = e.store.InsertNotificationEvent(ctx, alertID, s.Name(), "sent", attempts, "", &now)
			return nil
		}
		if attempts < notifyAttempts {
			e.sleep(time.Duration(attempts) * 300 * time.Millisecond)
		}
	}
	_ = e.store.InsertNotificationEvent(ctx, alertID, s.Name(), "failed", attempts, err.Error(), nil)
	e.log.Warn("notify failed", "channel", s.Name(), "alert_id", alertID, "err", err)
	return err
}
