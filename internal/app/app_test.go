package app

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netmaster/internal/config"
	"netmaster/internal/logger"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Resolve(config.Map(map[string]string{
		"NETMASTER_DB_PATH":   filepath.Join(t.TempDir(), "netmaster.db"),
		"NETMASTER_USERNAME":  "admin",
		"NETMASTER_PASSWORD":  "pw",
		"NETMASTER_USE_HTTPS": "false",
	}))
	return cfg
}

func TestNewWiresHandler(t *testing.T) {
	a, err := New(testConfig(t), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.db.DB().Close() })
	assert.NotNil(t, a.memory)
	assert.Nil(t, a.httpSrv.TLSConfig)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.SetBasicAuth("admin", "pw")
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ssl_enabled": false`)

	require.NoError(t, a.jobs.RunNow("ratelimit-sweep"))
	require.NoError(t, a.jobs.RunNow("retention"))
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.Password = ""
	_, err := New(cfg, logger.Nop())
	assert.Error(t, err)
}

func TestNewGeneratesCertificateWhenHTTPS(t *testing.T) {
	cfg := testConfig(t)
	dir := t.TempDir()
	cfg.UseHTTPS = true
	cfg.CertFile = filepath.Join(dir, "server.crt")
	cfg.KeyFile = filepath.Join(dir, "server.key")
	a, err := New(cfg, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.db.DB().Close() })
	assert.NotNil(t, a.httpSrv.TLSConfig)
	assert.FileExists(t, cfg.CertFile)
}
