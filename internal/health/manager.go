// Package health runs periodic host checks for the lockstep server and
// raises alerts when disk, memory or slot usage crosses a threshold.
package health

import (
	"context"
	"fmt"
	"sync"

	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/network"
	"github.com/energizer-project/lockstep/internal/util"
)

var logger = util.ComponentLogger("health")

// Slots is the registry view the capacity check reads.
type Slots interface {
	ClientList() []network.SlotInfo
}

// Manager evaluates the checks and publishes alerts on the event bus. An
// alert is raised when a check's level changes, not on every run.
type Manager struct {
	dataDir string
	slots   Slots
	bus     *events.EventBus

	diskUsage   func(path string) (*util.DiskUsage, error)
	memoryUsage func() (*util.MemoryUsage, error)

	mu   sync.Mutex
	last map[string]string
}

// NewManager creates a manager checking the disk holding dataDir and the
// slots of the given registry.
func NewManager(dataDir string, slots Slots, bus *events.EventBus) *Manager {
	return &Manager{
		dataDir:     dataDir,
		slots:       slots,
		bus:         bus,
		diskUsage:   util.GetDiskUsage,
		memoryUsage: util.GetMemoryUsage,
		last:        make(map[string]string),
	}
}

// Check runs every check once. It matches scheduler.Job.
func (m *Manager) Check(ctx context.Context) error {
	m.checkDisk(ctx)
	m.checkMemory(ctx)
	m.checkCapacity(ctx)
	return nil
}

// checkDisk alerts at 80, 90, 95 and 100 percent.
func (m *Manager) checkDisk(ctx context.Context) {
	usage, err := m.diskUsage(m.dataDir)
	if err != nil {
		logger.Warn().Err(err).Msg("disk utilization check failed")
		return
	}
	logger.Debug().
		Float64("used_percent", usage.UsedPercent).
		Uint64("free_gb", usage.Free).
		Msg("disk utilization")

	var level string
	switch {
	case usage.UsedPercent >= 100:
		level = "critical"
	case usage.UsedPercent >= 95:
		level = "error"
	case usage.UsedPercent >= 90:
		level = "warning"
	case usage.UsedPercent >= 80:
		level = "info"
	}
	m.report(ctx, "disk", level, usage.UsedPercent,
		fmt.Sprintf("disk usage at %.1f%% (%d GB free of %d GB)", usage.UsedPercent, usage.Free, usage.Total))
}

func (m *Manager) checkMemory(ctx context.Context) {
	mem, err := m.memoryUsage()
	if err != nil {
		logger.Warn().Err(err).Msg("memory check failed")
		return
	}

	var level string
	switch {
	case mem.UsedPercent >= 95:
		level = "error"
	case mem.UsedPercent >= 90:
		level = "warning"
	}
	m.report(ctx, "memory", level, mem.UsedPercent,
		fmt.Sprintf("memory usage at %.1f%% (%d MB available)", mem.UsedPercent, mem.Available))
}

// checkCapacity warns when no slot is left for a new client. Slots whose
// client has left stay taken until reset.
func (m *Manager) checkCapacity(ctx context.Context) {
	if m.slots == nil {
		return
	}
	list := m.slots.ClientList()
	total, used := 0, 0
	for _, s := range list {
		switch s.State {
		case network.Server:
		case network.Inactive:
			total++
		default:
			total++
			used++
		}
	}
	if total == 0 {
		return
	}

	pct := float64(used) * 100 / float64(total)
	level := ""
	if used == total {
		level = "warning"
	}
	m.report(ctx, "capacity", level, pct, fmt.Sprintf("%d of %d client slots taken", used, total))
}

// report publishes an alert when the level of check differs from the last
// run. Returning to normal is announced once as "ok".
func (m *Manager) report(ctx context.Context, check, level string, value float64, msg string) {
	m.mu.Lock()
	prev := m.last[check]
	m.last[check] = level
	m.mu.Unlock()

	if level == prev {
		return
	}
	if level == "" {
		level, msg = "ok", check+" back to normal"
	} else {
		logger.Warn().Str("check", check).Str("level", level).Msg(msg)
	}
	m.bus.Emit(ctx, events.NewEvent(events.EventHealthAlert, "health", events.HealthPayload{
		Check:   check,
		Level:   level,
		Value:   value,
		Message: msg,
	}))
}
