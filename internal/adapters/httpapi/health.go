package httpapi

import (
	"net/http"
	"runtime"
	"time"

	"github.com/eleven-am/regiflow/internal/adapters/dispatcher"
	"github.com/eleven-am/regiflow/internal/domain"
	"github.com/eleven-am/regiflow/internal/ports"
)

type HealthResponse struct {
	Status    string                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Uptime    string                      `json:"uptime"`
	Workflows WorkflowCounts              `json:"workflows"`
	Engine    *EngineHealth               `json:"engine,omitempty"`
	Schedules []dispatcher.ScheduleStatus `json:"schedules,omitempty"`
	Error     string                      `json:"error,omitempty"`
}

type WorkflowCounts struct {
	Total  int `json:"total"`
	Active int `json:"active"`
}

type EngineHealth struct {
	InFlight int                     `json:"in_flight"`
	Metrics  domain.ExecutionMetrics `json:"metrics"`
}

type MetricsResponse struct {
	Timestamp   time.Time                                      `json:"timestamp"`
	System      SystemMetrics                                  `json:"system"`
	Engine      *EngineHealth                                  `json:"engine,omitempty"`
	RateLimiter map[string]map[string]ports.RateLimiterMetrics `json:"rate_limiter,omitempty"`
}

type SystemMetrics struct {
	Runtime RuntimeMetrics `json:"runtime"`
	Memory  MemoryMetrics  `json:"memory"`
	Uptime  time.Duration  `json:"uptime_ns"`
}

type RuntimeMetrics struct {
	GoVersion    string `json:"go_version"`
	GOOS         string `json:"goos"`
	GOARCH       string `json:"goarch"`
	NumCPU       int    `json:"num_cpu"`
	NumGoroutine int    `json:"num_goroutine"`
}

type MemoryMetrics struct {
	Alloc        uint64 `json:"alloc_bytes"`
	TotalAlloc   uint64 `json:"total_alloc_bytes"`
	Sys          uint64 `json:"sys_bytes"`
	HeapAlloc    uint64 `json:"heap_alloc_bytes"`
	HeapObjects  uint64 `json:"heap_objects"`
	NumGC        uint32 `json:"gc_cycles"`
	PauseTotalNs uint64 `json:"gc_pause_total_ns"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).String(),
		Engine:    s.engineHealth(),
	}
	if s.deps.Schedules != nil {
		response.Schedules = s.deps.Schedules.Status()
	}

	status := http.StatusOK
	workflows, err := s.deps.Workflows.List(r.Context())
	if err != nil {
		response.Status = "unhealthy"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	for _, def := range workflows {
		response.Workflows.Total++
		if def.Active {
			response.Workflows.Active++
		}
	}

	s.writeJSON(w, status, response)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("live"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	response := MetricsResponse{
		Timestamp: time.Now(),
		System:    s.collectSystemMetrics(),
		Engine:    s.engineHealth(),
	}
	if s.deps.Limiter != nil {
		response.RateLimiter = s.deps.Limiter.GetAllMetrics()
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) engineHealth() *EngineHealth {
	if s.deps.Engine == nil {
		return nil
	}
	return &EngineHealth{
		InFlight: s.deps.Engine.InFlight(),
		Metrics:  s.deps.Engine.Metrics(),
	}
}

func (s *Server) collectSystemMetrics() SystemMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SystemMetrics{
		Runtime: RuntimeMetrics{
			GoVersion:    runtime.Version(),
			GOOS:         runtime.GOOS,
			GOARCH:       runtime.GOARCH,
			NumCPU:       runtime.NumCPU(),
			NumGoroutine: runtime.NumGoroutine(),
		},
		Memory: MemoryMetrics{
			Alloc:        m.Alloc,
			TotalAlloc:   m.TotalAlloc,
			Sys:          m.Sys,
			HeapAlloc:    m.HeapAlloc,
			HeapObjects:  m.HeapObjects,
			NumGC:        m.NumGC,
			PauseTotalNs: m.PauseTotalNs,
		},
		Uptime: time.Since(s.startTime),
	}
}
