package collector

import (
	"context"
	"time"
)

// Report is the wire form of one agent sample posted to /api/report.
type Report struct {
	Hostname      string   `json:"hostname"`
	IPAddress     string   `json:"ip_address"`
	Timestamp     int64    `json:"timestamp"`
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DiskPercent   float64  `json:"disk_percent"`
	Platform      string   `json:"platform,omitempty"`
	Architecture  string   `json:"architecture,omitempty"`
	Processes     *int     `json:"processes,omitempty"`
	Uptime        *float64 `json:"uptime,omitempty"`
}

// Source produces one report per call.
type Source interface {
	Collect(ctx context.Context) (Report, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Report, error)

func (f SourceFunc) Collect(ctx context.Context) (Report, error) { return f(ctx) }

func clampPercent(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	}
	return float64(int64(f*100+0.5)) / 100
}

func unixNow(now func() time.Time) int64 {
	if now == nil {
		return time.Now().Unix()
	}
	return now().Unix()
}
