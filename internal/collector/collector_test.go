package collector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampPercent(t *testing.T) {
	assert.Equal(t, 0.0, clampPercent(-3))
	assert.Equal(t, 100.0, clampPercent(100.4))
	assert.Equal(t, 42.13, clampPercent(42.126))
}

func TestPlatformName(t *testing.T) {
	assert.Equal(t, "Linux", platformName("linux"))
	assert.Equal(t, "Windows", platformName("windows"))
	assert.Equal(t, "Darwin", platformName("darwin"))
	assert.Equal(t, "", platformName(""))
}

func TestReportWireShape(t *testing.T) {
	procs := 12
	b, err := json.Marshal(Report{Hostname: "PC1", IPAddress: "10.0.0.5", Timestamp: 1700000000, CPUPercent: 5, Processes: &procs})
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	for _, k := range []string{"hostname", "ip_address", "timestamp", "cpu_percent", "memory_percent", "disk_percent", "processes"} {
		assert.Contains(t, m, k)
	}
	assert.NotContains(t, m, "uptime")
}

func TestHostSourceCollectsLocalMachine(t *testing.T) {
	h := NewHostSource("/", "10.0.0.5")
	h.CPUWindow = 100 * time.Millisecond
	fixed := time.Unix(1700000000, 0)
	h.now = func() time.Time { return fixed }

	r, err := h.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", r.IPAddress)
	assert.Equal(t, fixed.Unix(), r.Timestamp)
	assert.NotEmpty(t, r.Hostname)
	for _, p := range []float64{r.CPUPercent, r.MemoryPercent, r.DiskPercent} {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 100.0)
	}
}
