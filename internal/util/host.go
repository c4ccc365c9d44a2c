package util

import (
	"fmt"
	"net"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// SystemInfo describes the machine a peer runs on. It goes into announces,
// MQTT metadata and the status API.
type SystemInfo struct {
	Hostname    string `json:"hostname"`
	Platform    string `json:"platform"`
	OS          string `json:"os"`
	Arch        string `json:"arch"`
	CPUModel    string `json:"cpu_model,omitempty"`
	CPUCores    int    `json:"cpu_cores"`
	TotalMemory uint64 `json:"total_memory_mb"`
}

// GetSystemInfo probes the host. A probe that fails leaves its field at the
// runtime default or empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		Platform: runtime.GOOS,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
	}
	info.Hostname, _ = os.Hostname()

	if h, err := host.Info(); err == nil && h.Platform != "" {
		info.OS = h.Platform + " " + h.PlatformVersion
	}
	if cpus, err := cpu.Info(); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total / mib
	}
	return info
}

// OutboundIP returns the local address the default route uses. Dialing UDP
// sends nothing.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "192.0.2.1:9")
	if err != nil {
		return "", fmt.Errorf("no outbound route: %w", err)
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// DiskUsage is the usage of the filesystem holding a path, sizes in GiB.
type DiskUsage struct {
	Total       uint64  `json:"total_gb"`
	Free        uint64  `json:"free_gb"`
	UsedPercent float64 `json:"used_percent"`
}

func GetDiskUsage(path string) (*DiskUsage, error) {
	st, err := disk.Usage(path)
	if err != nil {
		return nil, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	return &DiskUsage{Total: st.Total / gib, Free: st.Free / gib, UsedPercent: st.UsedPercent}, nil
}

// GetCPUUsage returns overall CPU load since the previous call.
func GetCPUUsage() (float64, error) {
	load, err := cpu.Percent(0, false)
	if err != nil || len(load) == 0 {
		return 0, err
	}
	return load[0], nil
}

// MemoryUsage is system memory in MiB.
type MemoryUsage struct {
	Total       uint64  `json:"total_mb"`
	Available   uint64  `json:"available_mb"`
	UsedPercent float64 `json:"used_percent"`
}

func GetMemoryUsage() (*MemoryUsage, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}
	return &MemoryUsage{Total: vm.Total / mib, Available: vm.Available / mib, UsedPercent: vm.UsedPercent}, nil
}
