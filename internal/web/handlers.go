package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"netmaster/internal/apperr"
	"netmaster/internal/db"
	"netmaster/internal/models"
	"netmaster/internal/notifier"
	"netmaster/internal/validate"
)

const maxReportBytes = 64 << 10

var timespans = map[string]time.Duration{
	"1h":  time.Hour,
	"6h":  6 * time.Hour,
	"24h": 24 * time.Hour,
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		writeError(w, apperr.Validation(validate.CodeMalformed, "", "request body too large or unreadable"))
		return
	}
	res, err := validate.Sample(body, s.now())
	if err != nil {
		s.log.Warn("invalid report", "remote_ip", s.clientIP(r), "err", err)
		writeError(w, err)
		return
	}
	if len(res.Ignored) > 0 {
		s.log.Warn("optional fields ignored", "host", res.Sample.HostID, "fields", res.Ignored)
	}
	sample := res.Sample
	id, err := s.store.SaveSample(r.Context(), sample)
	if err != nil {
		s.log.Error("save sample", "host", sample.HostID, "err", err)
		writeError(w, apperr.Store(err))
		return
	}
	sample.ID = id
	s.log.Debug("sample stored", "host", sample.HostID, "cpu", sample.CPUPercent, "memory", sample.MemoryPercent, "disk", sample.DiskPercent)

	if _, err := s.alerts.Evaluate(r.Context(), sample); err != nil {
		s.log.Error("alert evaluation", "host", sample.HostID, "err", err)
	}
	writeJSON(w, map[string]any{
		"status":    "success",
		"message":   "data received and validated",
		"timestamp": sample.Timestamp.Unix(),
		"hostname":  sample.Hostname,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.views.Stats(r.Context()))
}

type realtimePoint struct {
	TimestampMS int64   `json:"timestamp_ms"`
	CPU         float64 `json:"cpu"`
	Memory      float64 `json:"memory"`
	Disk        float64 `json:"disk"`
	AgentIP     string  `json:"agent_ip"`
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	span, ok := timespans[r.URL.Query().Get("timespan")]
	if !ok {
		span = timespans["6h"]
	}
	samples, err := s.store.RecentSince(r.Context(), r.URL.Query().Get("host"), s.now().Add(-span))
	if err != nil {
		s.log.Error("realtime query", "err", err)
	}
	out := make([]realtimePoint, 0, len(samples))
	for _, x := range samples {
		out = append(out, realtimePoint{
			TimestampMS: x.Timestamp.UnixMilli(),
			CPU:         x.CPUPercent,
			Memory:      x.MemoryPercent,
			Disk:        x.DiskPercent,
			AgentIP:     x.HostID,
		})
	}
	writeJSON(w, out)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.views.Agents(r.Context()))
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, apperr.ErrNotFound)
		return
	}
	a, ok := s.views.Agent(r.Context(), id)
	if !ok {
		writeError(w, apperr.ErrNotFound)
		return
	}
	writeJSON(w, a)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.views.ActiveAlerts(r.Context()))
}

// handleDismiss only knows stored alerts; synthesized IDs are not numeric
// and answer 404.
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.ErrNotFound)
		return
	}
	ok, err := s.store.DismissAlert(r.Context(), id)
	if err != nil {
		s.log.Error("dismiss alert", "id", id, "err", err)
		writeError(w, apperr.Store(err))
		return
	}
	if !ok {
		writeError(w, apperr.ErrNotFound)
		return
	}
	writeJSON(w, map[string]string{"message": "alert dismissed"})
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	ts, err := s.store.ListThresholds(r.Context())
	if err != nil {
		s.log.Error("list thresholds", "err", err)
		ts = []models.Threshold{}
	}
	writeJSON(w, ts)
}

type thresholdUpdate struct {
	HostID  string
	Metric  string
	Limit   float64
	Enabled bool
}

func (s *Server) handleSaveThresholds(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxReportBytes))
	if err != nil {
		writeError(w, apperr.Validation(validate.CodeMalformed, "", "request body too large or unreadable"))
		return
	}
	updates, err := parseThresholds(body)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, u := range updates {
		if err := s.store.UpsertThreshold(r.Context(), u.HostID, u.Metric, u.Limit, u.Enabled); err != nil {
			s.log.Error("save threshold", "host", u.HostID, "metric", u.Metric, "err", err)
			writeError(w, apperr.Store(err))
			return
		}
	}
	s.log.Info("thresholds updated", "count", len(updates))
	writeJSON(w, map[string]any{"message": "thresholds updated", "count": len(updates)})
}

// parseThresholds accepts {"agent_ip","metric","threshold","enabled"} or a
// map of host to metric to either a number or {"threshold","enabled"}.
func parseThresholds(body []byte) ([]thresholdUpdate, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil || len(doc) == 0 {
		return nil, apperr.Validation(validate.CodeMalformed, "", "a JSON object of thresholds is required")
	}
	if _, single := doc["agent_ip"]; single {
		var in struct {
			AgentIP   string   `json:"agent_ip"`
			Metric    string   `json:"metric"`
			Threshold *float64 `json:"threshold"`
			Enabled   *bool    `json:"enabled"`
		}
		if err := json.Unmarshal(body, &in); err != nil {
			return nil, apperr.Validation(validate.CodeInvalidType, "", "invalid threshold payload")
		}
		if in.Threshold == nil {
			return nil, apperr.Validation(validate.CodeMissingField, "threshold", "missing required field: threshold")
		}
		enabled := in.Enabled == nil || *in.Enabled
		u := thresholdUpdate{HostID: in.AgentIP, Metric: in.Metric, Limit: *in.Threshold, Enabled: enabled}
		if err := checkThreshold(u); err != nil {
			return nil, err
		}
		return []thresholdUpdate{u}, nil
	}

	hosts := make([]string, 0, len(doc))
	for h := range doc {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	var out []thresholdUpdate
	for _, host := range hosts {
		var metrics map[string]json.RawMessage
		if err := json.Unmarshal(doc[host], &metrics); err != nil {
			return nil, apperr.Validation(validate.CodeInvalidType, host, "thresholds for "+host+" must be an object")
		}
		names := make([]string, 0, len(metrics))
		for m := range metrics {
			names = append(names, m)
		}
		sort.Strings(names)
		for _, metric := range names {
			u := thresholdUpdate{HostID: host, Metric: metric, Enabled: true}
			var limit float64
			if err := json.Unmarshal(metrics[metric], &limit); err == nil {
				u.Limit = limit
			} else {
				var obj struct {
					Threshold *float64 `json:"threshold"`
					Enabled   *bool    `json:"enabled"`
				}
				if err := json.Unmarshal(metrics[metric], &obj); err != nil || obj.Threshold == nil {
					return nil, apperr.Validation(validate.CodeInvalidType, metric, "threshold for "+host+"/"+metric+" must be a number")
				}
				u.Limit = *obj.Threshold
				u.Enabled = obj.Enabled == nil || *obj.Enabled
			}
			if err := checkThreshold(u); err != nil {
				return nil, err
			}
			out = append(out, u)
		}
	}
	return out, nil
}

func checkThreshold(u thresholdUpdate) error {
	if err := validate.HostID(u.HostID); err != nil {
		return err
	}
	if !models.ValidMetric(u.Metric) {
		return apperr.Validation(validate.CodeInvalidType, "metric", "metric must be one of cpu, memory, disk")
	}
	return validate.Percent("threshold", u.Limit)
}

func (s *Server) handleListNotificationConfig(w http.ResponseWriter, r *http.Request) {
	cfgs, err := s.store.ListNotificationConfigs(r.Context())
	if err != nil {
		s.log.Error("list notification config", "err", err)
		cfgs = []models.NotificationConfig{}
	}
	writeJSON(w, cfgs)
}

func (s *Server) handleSaveNotificationConfig(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type    string          `json:"type"`
		Config  json.RawMessage `json:"config"`
		Enabled *bool           `json:"enabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBytes)).Decode(&in); err != nil {
		writeError(w, apperr.Validation(validate.CodeMalformed, "", "invalid JSON body"))
		return
	}
	cfg := strings.TrimSpace(string(in.Config))
	for _, f := range []struct {
		name    string
		missing bool
	}{{"type", in.Type == ""}, {"config", cfg == "" || cfg == "null"}, {"enabled", in.Enabled == nil}} {
		if f.missing {
			writeError(w, apperr.Validation(validate.CodeMissingField, f.name, "incomplete data: type, config and enabled are required"))
			return
		}
	}
	if !s.notify.Supports(in.Type) {
		writeError(w, apperr.Validation(validate.CodeInvalidType, "type", "unsupported notification type"))
		return
	}
	if !strings.HasPrefix(cfg, "{") {
		writeError(w, apperr.Validation(validate.CodeInvalidType, "config", "config must be an object"))
		return
	}
	enabled := *in.Enabled
	if err := s.store.UpsertNotificationConfig(r.Context(), in.Type, json.RawMessage(cfg), enabled); err != nil {
		s.log.Error("save notification config", "type", in.Type, "err", err)
		writeError(w, apperr.Store(err))
		return
	}
	s.log.Info("notification config saved", "type", in.Type, "enabled", enabled)
	writeJSON(w, map[string]string{"message": "configuration saved"})
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Type string `json:"type"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&in)
	if in.Type == "" {
		in.Type = notifier.TypeEmail
	}
	msg := notifier.Message{Subject: "NetMaster test notification", Text: "Notification channel " + in.Type + " is working."}
	if err := s.notify.Test(r.Context(), in.Type, msg); err != nil {
		s.log.Warn("test notification failed", "type", in.Type, "err", err)
		writeJSONStatus(w, http.StatusBadGateway, errorBody{Error: "Notification failed", Message: "notification delivery failed"})
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.HistoryFilter{HostID: q.Get("host")}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"start", &f.From}, {"end", &f.To}} {
		v := strings.TrimSpace(q.Get(p.name))
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			writeError(w, apperr.Validation(validate.CodeInvalidType, p.name, p.name+" must be RFC 3339, YYYY-MM-DD or unix seconds"))
			return
		}
		*p.dst = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, apperr.Validation(validate.CodeInvalidType, "limit", "limit must be a positive integer"))
			return
		}
		f.Limit = n
	}
	samples, err := s.store.History(r.Context(), f)
	if err != nil {
		s.log.Error("history query", "err", err)
		samples = []models.Sample{}
	}
	writeJSON(w, samples)
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	if sec, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMilli(int64(sec * 1000)).UTC(), nil
	}
	return time.Time{}, errors.New("unrecognized time")
}
