package status

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"netmaster/internal/models"
)

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityError    = "error"

	TypeSystem = "system"

	activeAlertLimit = 500
)

type AlertView struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Severity      string    `json:"severity"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	Active        bool      `json:"active"`
	AgentHostname string    `json:"agent_hostname"`
	AgentIP       string    `json:"agent_ip"`
	Value         float64   `json:"value"`
	Threshold     float64   `json:"threshold"`
	Synthesized   bool      `json:"synthesized"`
}

// ActiveAlerts returns the undismissed stored alerts or, when there are
// none, alerts derived from the latest samples. Offline hosts are reported
// in both cases. Derived alerts are never written back.
func (s *Service) ActiveAlerts(ctx context.Context) []AlertView {
	return s.activeAlerts(ctx, nil)
}

func (s *Service) activeAlerts(ctx context.Context, latest []models.Sample) []AlertView {
	stored, err := s.store.ListAlerts(ctx, models.AlertSent, activeAlertLimit)
	if err != nil {
		s.log.Error("load stored alerts", "err", err)
	}
	if len(stored) > 0 {
		if latest == nil {
			latest = s.latest(ctx)
		}
		names := map[string]string{}
		for _, x := range latest {
			names[x.HostID] = x.Hostname
		}
		out := make([]AlertView, 0, len(stored))
		for _, a := range stored {
			out = append(out, fromStored(a, names[a.HostID]))
		}
		return append(out, Offline(latest, s.now())...)
	}
	if latest == nil {
		latest = s.latest(ctx)
	}
	thresholds, err := s.store.ListThresholds(ctx)
	if err != nil {
		s.log.Error("load thresholds", "err", err)
	}
	return Synthesize(latest, thresholds, s.now())
}

func fromStored(a models.Alert, hostname string) AlertView {
	if hostname == "" {
		hostname = a.HostID
	}
	return AlertView{
		ID:            strconv.FormatInt(a.ID, 10),
		Type:          a.Metric,
		Severity:      Severity(a.Metric, a.ObservedValue),
		Title:         title(a.Metric),
		Message:       fmt.Sprintf("%s: %s at %.1f%% (threshold: %g%%)", hostname, a.Metric, a.ObservedValue, a.LimitValue),
		Timestamp:     a.Timestamp,
		Active:        a.Status == models.AlertSent,
		AgentHostname: hostname,
		AgentIP:       a.HostID,
		Value:         a.ObservedValue,
		Threshold:     a.LimitValue,
	}
}

// Synthesize compares each host's latest sample to its limits and reports
// hosts silent for longer than WarningWithin. Enabled thresholds override
// DefaultLimits; a disabled threshold silences that metric.
func Synthesize(latest []models.Sample, thresholds []models.Threshold, now time.Time) []AlertView {
	byHost := map[string]map[string]models.Threshold{}
	for _, t := range thresholds {
		if byHost[t.HostID] == nil {
			byHost[t.HostID] = map[string]models.Threshold{}
		}
		byHost[t.HostID][t.Metric] = t
	}
	out := []AlertView{}
	seq := 0
	next := func() string {
		seq++
		return "synthetic-" + strconv.Itoa(seq)
	}
	for _, x := range latest {
		for _, metric := range models.Metrics {
			limit := DefaultLimits[metric]
			if t, ok := byHost[x.HostID][metric]; ok {
				if !t.Enabled {
					continue
				}
				limit = t.Limit
			}
			v := x.Value(metric)
			if v <= limit {
				continue
			}
			out = append(out, AlertView{
				ID:            next(),
				Type:          metric,
				Severity:      Severity(metric, v),
				Title:         title(metric),
				Message:       fmt.Sprintf("%s: %s at %.1f%% (threshold: %g%%)", x.Hostname, metric, v, limit),
				Timestamp:     x.Timestamp,
				Active:        true,
				AgentHostname: x.Hostname,
				AgentIP:       x.HostID,
				Value:         v,
				Threshold:     limit,
				Synthesized:   true,
			})
		}
	}
	return append(out, Offline(latest, now)...)
}

// Offline reports every host whose latest sample is older than
// WarningWithin.
func Offline(latest []models.Sample, now time.Time) []AlertView {
	out := []AlertView{}
	for _, x := range latest {
		age := now.Sub(x.Timestamp)
		if age <= WarningWithin {
			continue
		}
		out = append(out, AlertView{
			ID:            "offline-" + x.HostID,
			Type:          TypeSystem,
			Severity:      SeverityError,
			Title:         "Agent offline",
			Message:       fmt.Sprintf("%s has not reported for %d minutes", x.Hostname, int(age.Minutes())),
			Timestamp:     x.Timestamp,
			Active:        true,
			AgentHostname: x.Hostname,
			AgentIP:       x.HostID,
			Synthesized:   true,
		})
	}
	return out
}

func Severity(metric string, v float64) string {
	switch metric {
	case models.MetricCPU:
		if v > 90 {
			return SeverityCritical
		}
	case models.MetricMemory:
		if v > 95 {
			return SeverityCritical
		}
	}
	return SeverityWarning
}

func title(metric string) string {
	switch metric {
	case models.MetricCPU:
		return "High CPU"
	case models.MetricMemory:
		return "High memory"
	case models.MetricDisk:
		return "Low disk space"
	}
	return metric
}
