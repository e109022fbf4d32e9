package models

import (
	"encoding/json"
	"time"
)

const (
	MetricCPU    = "cpu"
	MetricMemory = "memory"
	MetricDisk   = "disk"
)

var Metrics = []string{MetricCPU, MetricMemory, MetricDisk}

func ValidMetric(m string) bool {
	switch m {
	case MetricCPU, MetricMemory, MetricDisk:
		return true
	}
	return false
}

type Sample struct {
	ID            int64     `json:"id,omitempty"`
	HostID        string    `json:"ip_address"`
	Hostname      string    `json:"hostname"`
	Timestamp     time.Time `json:"timestamp"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskPercent   float64   `json:"disk_percent"`
	Platform      string    `json:"platform,omitempty"`
	Architecture  string    `json:"architecture,omitempty"`
	ProcessCount  *int      `json:"processes,omitempty"`
	UptimeSeconds *float64  `json:"uptime,omitempty"`
}

func (s Sample) Value(metric string) float64 {
	switch metric {
	case MetricCPU:
		return s.CPUPercent
	case MetricMemory:
		return s.MemoryPercent
	case MetricDisk:
		return s.DiskPercent
	}
	return 0
}

type Threshold struct {
	HostID    string    `json:"agent_ip"`
	Metric    string    `json:"metric"`
	Limit     float64   `json:"threshold"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

const (
	AlertSent      = "sent"
	AlertDismissed = "dismissed"
)

type Alert struct {
	ID            int64     `json:"id"`
	HostID        string    `json:"agent_ip"`
	Metric        string    `json:"metric"`
	ObservedValue float64   `json:"value"`
	LimitValue    float64   `json:"threshold"`
	Timestamp     time.Time `json:"timestamp"`
	Status        string    `json:"status"`
}

type NotificationConfig struct {
	Type      string          `json:"type"`
	Config    json.RawMessage `json:"config"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type HostStatus string

const (
	StatusOnline  HostStatus = "online"
	StatusWarning HostStatus = "warning"
	StatusOffline HostStatus = "offline"
)
