package status

import (
	"context"
	"math"
	"time"

	"netmaster/internal/logger"
	"netmaster/internal/models"
)

const (
	OnlineWithin  = 2 * time.Minute
	WarningWithin = 5 * time.Minute
)

// DefaultLimits apply to synthesized alerts when a host has no threshold.
var DefaultLimits = map[string]float64{
	models.MetricCPU:    75,
	models.MetricMemory: 85,
	models.MetricDisk:   90,
}

type Reader interface {
	LatestPerHost(ctx context.Context) ([]models.Sample, error)
	ListThresholds(ctx context.Context) ([]models.Threshold, error)
	ListAlerts(ctx context.Context, status string, limit int) ([]models.Alert, error)
}

type Stats struct {
	TotalAgents  int     `json:"total_agents"`
	AvgCPU       float64 `json:"avg_cpu"`
	AvgMemory    float64 `json:"avg_memory"`
	AvgDisk      float64 `json:"avg_disk"`
	ActiveAlerts int     `json:"active_alerts"`
}

type AgentView struct {
	ID            int               `json:"id"`
	Hostname      string            `json:"hostname"`
	IPAddress     string            `json:"ip_address"`
	CPUPercent    float64           `json:"cpu_percent"`
	MemoryPercent float64           `json:"memory_percent"`
	DiskPercent   float64           `json:"disk_percent"`
	Processes     int               `json:"processes"`
	Uptime        float64           `json:"uptime"`
	Platform      string            `json:"platform"`
	Architecture  string            `json:"architecture"`
	LastUpdate    int64             `json:"last_update"`
	Status        models.HostStatus `json:"status"`
}

type Service struct {
	store Reader
	log   *logger.Logger
	now   func() time.Time
}

func NewService(store Reader, log *logger.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

func HostStatus(last, now time.Time) models.HostStatus {
	age := now.Sub(last)
	switch {
	case age < OnlineWithin:
		return models.StatusOnline
	case age < WarningWithin:
		return models.StatusWarning
	default:
		return models.StatusOffline
	}
}

func (s *Service) latest(ctx context.Context) []models.Sample {
	latest, err := s.store.LatestPerHost(ctx)
	if err != nil {
		s.log.Error("load latest samples", "err", err)
		return nil
	}
	return latest
}

func (s *Service) Stats(ctx context.Context) Stats {
	latest := s.latest(ctx)
	st := Stats{TotalAgents: len(latest), ActiveAlerts: len(s.activeAlerts(ctx, latest))}
	if len(latest) == 0 {
		return st
	}
	var cpu, mem, disk float64
	for _, x := range latest {
		cpu += x.CPUPercent
		mem += x.MemoryPercent
		disk += x.DiskPercent
	}
	n := float64(len(latest))
	st.AvgCPU = round1(cpu / n)
	st.AvgMemory = round1(mem / n)
	st.AvgDisk = round1(disk / n)
	return st
}

// Agents lists hosts newest first; IDs are 1-based positions in that order.
func (s *Service) Agents(ctx context.Context) []AgentView {
	now := s.now()
	latest := s.latest(ctx)
	out := make([]AgentView, 0, len(latest))
	for i, x := range latest {
		v := AgentView{
			ID:            i + 1,
			Hostname:      x.Hostname,
			IPAddress:     x.HostID,
			CPUPercent:    x.CPUPercent,
			MemoryPercent: x.MemoryPercent,
			DiskPercent:   x.DiskPercent,
			Platform:      x.Platform,
			Architecture:  x.Architecture,
			LastUpdate:    x.Timestamp.Unix(),
			Status:        HostStatus(x.Timestamp, now),
		}
		if v.Hostname == "" {
			v.Hostname = "Agent-" + x.HostID
		}
		if v.Platform == "" {
			v.Platform = "Unknown"
		}
		if v.Architecture == "" {
			v.Architecture = "Unknown"
		}
		if x.ProcessCount != nil {
			v.Processes = *x.ProcessCount
		}
		if x.UptimeSeconds != nil {
			v.Uptime = *x.UptimeSeconds
		}
		out = append(out, v)
	}
	return out
}

func (s *Service) Agent(ctx context.Context, id int) (AgentView, bool) {
	agents := s.Agents(ctx)
	if id < 1 || id > len(agents) {
		return AgentView{}, false
	}
	return agents[id-1], true
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}
