package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/lockstep/internal/network"
	"github.com/energizer-project/lockstep/internal/util"
)

func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": util.AppName,
		"version": s.info.Version,
	})
}

// handleStatus reports the counters next to host load.
func (s *Server) handleStatus(c *gin.Context) {
	counters := s.clients.Counters()
	sysInfo := util.GetSystemInfo()

	resp := gin.H{
		"server":   s.info,
		"counters": counters,
		"free":     max(0, s.info.Capacity-counters.ServerSockets-clientSlots(s.clients.ClientList())),
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"system":   sysInfo,
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	c.JSON(http.StatusOK, resp)
}

// clientSlots counts slots that are not free for a new connection.
func clientSlots(slots []network.SlotInfo) int {
	n := 0
	for _, s := range slots {
		if s.State != network.Inactive && s.State != network.Server {
			n++
		}
	}
	return n
}

func (s *Server) handleClients(c *gin.Context) {
	var out []network.SlotInfo
	for _, slot := range s.clients.ClientList() {
		if slot.State == network.Inactive || slot.State == network.Server {
			continue
		}
		out = append(out, slot)
	}
	c.JSON(http.StatusOK, gin.H{
		"clients": out,
		"total":   len(out),
	})
}

func (s *Server) handleBlacklist(c *gin.Context) {
	prefixes := s.bans.Strings()
	c.JSON(http.StatusOK, gin.H{
		"prefixes": prefixes,
		"total":    len(prefixes),
	})
}

func (s *Server) handleAudit(c *gin.Context) {
	if s.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "audit log not enabled"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	entries, err := s.audit.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
