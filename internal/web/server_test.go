package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"netmaster/internal/alerts"
	"netmaster/internal/auth"
	"netmaster/internal/db"
	"netmaster/internal/logger"
	"netmaster/internal/models"
	"netmaster/internal/notifier"
	"netmaster/internal/ratelimit"
	"netmaster/internal/status"
)

const (
	testUser = "admin"
	testPass = "s3cret"
)

type testEnv struct {
	handler http.Handler
	repo    *db.Repository
}

func newTestEnv(t *testing.T, limits map[string]ratelimit.Limit) testEnv {
	t.Helper()
	sqldb, err := db.Open(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqldb.Close() })
	require.NoError(t, db.Migrate(sqldb))
	repo := db.NewRepository(sqldb)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPass), bcrypt.MinCost)
	require.NoError(t, err)
	a, err := auth.New(testUser, string(hash))
	require.NoError(t, err)

	log := logger.Nop()
	dispatch := notifier.NewDispatcher(repo, nil, notifier.SMTPDefaults{})
	srv := NewServer(repo, status.NewService(repo, log), alerts.NewEngine(repo, dispatch, log), dispatch,
		Options{Auth: a, Limiter: ratelimit.NewMemory(nil), Limits: limits}, log)
	return testEnv{handler: srv.Routes(), repo: repo}
}

func (e testEnv) do(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:51000"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.SetBasicAuth(testUser, testPass)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func report(cpu float64, at time.Time) string {
	return fmt.Sprintf(`{"hostname":"PC1","ip_address":"192.168.1.10","timestamp":%d,`+
		`"cpu_percent":%g,"memory_percent":40,"disk_percent":55,"platform":"Linux","processes":210}`, at.Unix(), cpu)
}

func TestReportStoresSampleAndFiresAlert(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, env.repo.UpsertThreshold(ctx, "192.168.1.10", models.MetricCPU, 80, true))

	rec := env.do(t, http.MethodPost, "/api/report", report(92.5, time.Now()), true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var ack map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))
	assert.Equal(t, "success", ack["status"])
	assert.Equal(t, "PC1", ack["hostname"])

	// replay inside the cooldown is stored but does not alert again
	rec = env.do(t, http.MethodPost, "/api/report", report(95, time.Now()), true)
	require.Equal(t, http.StatusOK, rec.Code)

	stored, err := env.repo.ListAlerts(ctx, models.AlertSent, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, 92.5, stored[0].ObservedValue)

	rec = env.do(t, http.MethodGet, "/api/alerts", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var views []status.AlertView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.False(t, views[0].Synthesized)
	assert.Equal(t, "PC1", views[0].AgentHostname)

	rec = env.do(t, http.MethodGet, "/api/agents", "", true)
	var agents []status.AgentView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, 95.0, agents[0].CPUPercent)
	assert.Equal(t, models.StatusOnline, agents[0].Status)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/alerts/%d/dismiss", stored[0].ID), "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/alerts/%d/dismiss", stored[0].ID), "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportRejectsInvalidPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := map[string]struct {
		body  string
		field string
	}{
		"malformed": {body: `{"hostname":`},
		"missing":   {body: `{"hostname":"PC1","ip_address":"10.0.0.1"}`, field: "timestamp"},
		"bad ip":    {body: strings.Replace(report(10, time.Now()), "192.168.1.10", "999.1.1.1", 1), field: "ip_address"},
		"stale":     {body: report(10, time.Now().Add(-2*time.Hour)), field: "timestamp"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/report", tc.body, true)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "Invalid data", body.Error)
			assert.Equal(t, tc.field, body.Field)
		})
	}
	latest, err := env.repo.LatestPerHost(context.Background())
	require.NoError(t, err)
	assert.Empty(t, latest)
}

func TestAPIRequiresBasicAuth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/stats", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="NetMaster"`, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth(testUser, "wrong")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "NetMaster")
}

func TestRateLimitPerMinuteBoundary(t *testing.T) {
	limits := DefaultRouteLimits(ratelimit.Limit{PerMinute: 60, PerHour: 1000})
	env := newTestEnv(t, limits)
	for i := 0; i < 60; i++ {
		rec := env.do(t, http.MethodGet, "/api/health", "", true)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}
	rec := env.do(t, http.MethodGet, "/api/health", "", true)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, 60, body.RetryAfter)

	// other groups keep their own budget
	rec = env.do(t, http.MethodGet, "/api/stats", "", true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestThresholdsMapAndSingleForms(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/thresholds",
		`{"10.0.0.1":{"cpu":70,"disk":{"threshold":95,"enabled":false}}}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/thresholds",
		`{"agent_ip":"10.0.0.2","metric":"memory","threshold":88.5}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/thresholds", "", true)
	var ts []models.Threshold
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ts))
	require.Len(t, ts, 3)
	byKey := map[string]models.Threshold{}
	for _, th := range ts {
		byKey[th.HostID+"/"+th.Metric] = th
	}
	assert.Equal(t, 70.0, byKey["10.0.0.1/cpu"].Limit)
	assert.False(t, byKey["10.0.0.1/disk"].Enabled)
	assert.True(t, byKey["10.0.0.2/memory"].Enabled)

	for _, bad := range []string{
		`{"10.0.0.1":{"gpu":50}}`,
		`{"10.0.0.1":{"cpu":150}}`,
		`{"not-an-ip":{"cpu":50}}`,
		`{"agent_ip":"10.0.0.2","metric":"cpu"}`,
	} {
		rec = env.do(t, http.MethodPost, "/api/thresholds", bad, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestNotificationConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/notifications/config",
		`{"type":"email","enabled":true,"config":{"smtp_server":"smtp.example.com","to_email":"ops@example.com"}}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cfg, err := env.repo.NotificationConfig(context.Background(), notifier.TypeEmail)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.Enabled)
	assert.JSONEq(t, `{"smtp_server":"smtp.example.com","to_email":"ops@example.com"}`, string(cfg.Config))

	rec = env.do(t, http.MethodPost, "/api/notifications/config", `{"type":"pager","config":{},"enabled":true}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for body, field := range map[string]string{
		`{"config":{},"enabled":true}`:     "type",
		`{"type":"email","enabled":false}`: "config",
		`{"type":"email","config":{}}`:     "enabled",
	} {
		rec = env.do(t, http.MethodPost, "/api/notifications/config", body, true)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		var eb errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eb))
		assert.Equal(t, field, eb.Field, body)
	}
}

type failingNotifications struct{}

func (failingNotifications) Supports(string) bool { return true }

func (failingNotifications) Test(context.Context, string, notifier.Message) error {
	return errors.New("send email: dial tcp 127.0.0.1:1: connect: connection refused")
}

func TestNotificationTestHidesDeliveryError(t *testing.T) {
	env := newTestEnv(t, nil)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPass), bcrypt.MinCost)
	require.NoError(t, err)
	a, err := auth.New(testUser, string(hash))
	require.NoError(t, err)
	log := logger.Nop()
	srv := NewServer(env.repo, status.NewService(env.repo, log), alerts.NewEngine(env.repo, notifier.NewDispatcher(env.repo, nil, notifier.SMTPDefaults{}), log),
		failingNotifications{}, Options{Auth: a}, log)
	env.handler = srv.Routes()

	rec := env.do(t, http.MethodPost, "/api/notifications/test", `{"type":"email"}`, true)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "notification delivery failed", body.Message)
	assert.NotContains(t, rec.Body.String(), "127.0.0.1")
}

func TestHistoryAndRealtime(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Now()
	for i := 3; i >= 1; i-- {
		rec := env.do(t, http.MethodPost, "/api/report", report(float64(10*i), now.Add(-time.Duration(i)*time.Minute)), true)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := env.do(t, http.MethodGet, "/api/realtime?timespan=1h", "", true)
	var points []realtimePoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 3)
	assert.Equal(t, 30.0, points[0].CPU)
	assert.Equal(t, "192.168.1.10", points[0].AgentIP)

	rec = env.do(t, http.MethodGet, "/api/history?host=192.168.1.10&limit=2", "", true)
	var hist []models.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	assert.Len(t, hist, 2)

	rec = env.do(t, http.MethodGet, "/api/history?start=yesterday", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDismissSynthesizedAlertIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/alerts/synthetic-1/dismiss", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/agents/7", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2026-03-01T00:00:00Z", "2026-03-01", fmt.Sprint(want.Unix())} {
		got, err := parseTime(in)
		require.NoError(t, err, in)
		assert.True(t, want.Equal(got), in)
	}
	_, err := parseTime("soon")
	assert.Error(t, err)
}
