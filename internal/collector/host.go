package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	netutil "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"
)

// HostSource samples the local machine through gopsutil.
type HostSource struct {
	// DiskPath is the mount point whose usage is reported. Defaults to "/".
	DiskPath string
	// CPUWindow is how long cpu usage is measured for. Defaults to 1s.
	CPUWindow time.Duration
	// IPAddress overrides interface discovery when set.
	IPAddress string

	now func() time.Time
}

func NewHostSource(diskPath, ipAddress string) *HostSource {
	if diskPath == "" {
		diskPath = "/"
	}
	return &HostSource{DiskPath: diskPath, CPUWindow: time.Second, IPAddress: ipAddress, now: time.Now}
}

// Collect fails only when one of cpu, memory or disk cannot be read; the
// optional fields are left out individually.
func (h *HostSource) Collect(ctx context.Context) (Report, error) {
	cpus, err := cpu.PercentWithContext(ctx, h.CPUWindow, false)
	if err != nil {
		return Report{}, fmt.Errorf("collector: cpu: %w", err)
	}
	if len(cpus) == 0 {
		return Report{}, errors.New("collector: cpu: no samples")
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("collector: memory: %w", err)
	}
	du, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return Report{}, fmt.Errorf("collector: disk %s: %w", h.DiskPath, err)
	}

	r := Report{
		Timestamp:     unixNow(h.now),
		CPUPercent:    clampPercent(cpus[0]),
		MemoryPercent: clampPercent(vm.UsedPercent),
		DiskPercent:   clampPercent(du.UsedPercent),
		IPAddress:     h.IPAddress,
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		r.Hostname = info.Hostname
		r.Platform = platformName(info.OS)
		r.Architecture = info.KernelArch
		up := float64(info.Uptime)
		r.Uptime = &up
	}
	if r.Hostname == "" {
		r.Hostname, _ = os.Hostname()
	}
	if pids, err := process.PidsWithContext(ctx); err == nil {
		n := len(pids)
		r.Processes = &n
	}
	if r.IPAddress == "" {
		r.IPAddress = primaryIPv4(ctx)
	}
	if r.IPAddress == "" {
		return Report{}, errors.New("collector: no IPv4 address found; set the agent ip explicitly")
	}
	return r, nil
}

func platformName(goos string) string {
	switch goos {
	case "":
		return ""
	case "darwin":
		return "Darwin"
	}
	return strings.ToUpper(goos[:1]) + goos[1:]
}

// primaryIPv4 returns the first IPv4 address on an up, non-loopback
// interface.
func primaryIPv4(ctx context.Context) string {
	ifaces, err := netutil.InterfacesWithContext(ctx)
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4.String()
			}
		}
	}
	return ""
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}
