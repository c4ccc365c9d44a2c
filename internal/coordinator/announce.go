package coordinator

import (
	"context"
	"time"

	"github.com/energizer-project/lockstep/internal/events"
	"github.com/energizer-project/lockstep/internal/protocol"
	"github.com/energizer-project/lockstep/internal/util"
)

// Status values reported in announces.
const (
	StatusOnline   = "online"
	StatusShutdown = "shutdown"
)

// maybeAnnounce emits the usage report when the interval elapsed or an admin
// asked for it. The payload is built here and handed over by value; the
// worker that posts it shares no state with the loop.
func (c *Coordinator) maybeAnnounce(ctx context.Context) {
	if c.role != RoleServer || !c.announce.Enabled {
		return
	}
	interval := c.announce.Interval()
	if !c.announceNow && interval > 0 && time.Since(c.lastAnnounce) < interval {
		return
	}
	c.announceNow = false
	c.lastAnnounce = time.Now()
	c.emit(ctx, events.EventAnnounce, c.Snapshot(StatusOnline))
}

// Snapshot builds an announce payload describing the server right now.
func (c *Coordinator) Snapshot(status string) events.AnnouncePayload {
	counters := c.reg.Counters()
	sys := util.GetSystemInfo()

	p := events.AnnouncePayload{
		Name:             c.cfg.ServerName,
		Host:             c.announce.PublicHost,
		Port:             c.cfg.Port,
		Version:          protocol.NetworkVersion,
		ConnectedClients: counters.ConnectedClients,
		PlayingClients:   counters.PlayingClients,
		Capacity:         c.cfg.MaxClients - counters.ServerSockets,
		Status:           status,
		OS:               sys.OS,
		CPUCores:         sys.CPUCores,
	}
	if p.Host == "" {
		if ip, err := util.OutboundIP(); err == nil {
			p.Host = ip
		}
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		p.CPUUsage = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		p.MemoryUsedPct = mem.UsedPercent
	}
	return p
}
