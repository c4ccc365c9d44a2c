package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/energizer-project/lockstep/internal/config"
	"github.com/energizer-project/lockstep/internal/db"
	"github.com/energizer-project/lockstep/internal/network"
	"github.com/energizer-project/lockstep/internal/util"
)

var logger = util.ComponentLogger("api")

// Clients is the slot view the status API reads. *network.Registry
// satisfies it.
type Clients interface {
	Counters() network.Counters
	ClientList() []network.SlotInfo
}

// Bans lists the blacklisted prefixes.
type Bans interface {
	Strings() []string
}

// AuditTrail returns recent administrative events.
type AuditTrail interface {
	Recent(limit int) ([]db.AuditEntry, error)
}

// Info describes the game server the API reports on.
type Info struct {
	Name     string `json:"name"`
	Port     int    `json:"port"`
	Capacity int    `json:"capacity"`
	Version  uint16 `json:"version"`
}

// Server is the read-only status API.
type Server struct {
	cfg     config.StatusConfig
	info    Info
	clients Clients
	bans    Bans
	audit   AuditTrail
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a status server. audit may be nil.
func NewServer(cfg config.StatusConfig, info Info, clients Clients, bans Bans, audit AuditTrail, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		info:    info,
		clients: clients,
		bans:    bans,
		audit:   audit,
		started: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves the API until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Address, strconv.Itoa(s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ln, err := network.ListenTCP(ctx, addr)
	if err != nil {
		return fmt.Errorf("status API listen on %s: %w", addr, err)
	}
	logger.Info().Str("addr", addr).Msg("status API starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("status API error: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := s.cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	router.Use(NewRateLimiter(10).Middleware())

	api := router.Group("/api")
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/clients", s.handleClients)
		api.GET("/blacklist", s.handleBlacklist)
		api.GET("/audit", s.handleAudit)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})
	return router
}
