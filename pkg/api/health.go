package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/mem"
)

// Browser readiness values reported by /health.
const (
	StatusReady        = "READY"
	StatusInitializing = "INITIALIZING"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status            string  `json:"status"`
	Timestamp         string  `json:"timestamp"`
	Browser           string  `json:"browser"`
	Puppeteer         string  `json:"puppeteer"`
	Mode              string  `json:"mode"`
	Version           string  `json:"version,omitempty"`
	Sessions          int     `json:"sessions"`
	Subscribers       int     `json:"subscribers"`
	MemoryUsedPercent float64 `json:"memoryUsedPercent,omitempty"`
}

// Health handles GET /health. It always answers 200; readiness is in the body.
func (s *Server) Health(c *gin.Context) {
	state := StatusInitializing
	if s.pool.IsInitialized() {
		state = StatusReady
	}

	resp := HealthResponse{
		Status:    "UP",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Browser:   state,
		Puppeteer: state,
		Mode:      "REST API",
		Version:   s.opts.Version,
		Sessions:  len(s.pool.ActiveSessionIDs()),
	}
	if s.hub != nil {
		resp.Subscribers = s.hub.SubscriberCount()
	}
	if vm, err := mem.VirtualMemoryWithContext(c.Request.Context()); err == nil {
		resp.MemoryUsedPercent = vm.UsedPercent
	}

	c.JSON(http.StatusOK, resp)
}
