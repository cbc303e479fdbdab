// Package api exposes the operational HTTP surface of the SCRAM client:
// health/readiness, Prometheus metrics, a secret-free cache snapshot, and a
// minimal status dashboard.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbbouncer/scramclient/internal/health"
	"github.com/dbbouncer/scramclient/internal/metrics"
	"github.com/dbbouncer/scramclient/internal/scram"
)

// Server is the operational REST API and metrics server.
type Server struct {
	healthCheck *health.Checker
	metrics     *metrics.Collector
	store       *scram.Store
	httpServer  *http.Server
	startTime   time.Time
}

// NewServer creates a new API server. store may be nil when the caller runs
// without a shared secret cache.
func NewServer(hc *health.Checker, m *metrics.Collector, store *scram.Store) *Server {
	return &Server{
		healthCheck: hc,
		metrics:     m,
		store:       store,
		startTime:   time.Now(),
	}
}

// Start starts the HTTP API server.
func (s *Server) Start(bind string, port int) error {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/cache", s.cacheHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler())

	// Admin dashboard, served at exactly "/" and "/dashboard"
	r.HandleFunc("/", s.dashboardHandler).Methods("GET")
	r.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%d", bind, port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	log.Printf("[api] operational API listening on %s", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[api] server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// --- Handlers ---

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	if s.healthCheck == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	statuses := s.healthCheck.GetAllStatuses()
	allHealthy := s.healthCheck.OverallHealthy()

	status := http.StatusOK
	if !allHealthy {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, map[string]interface{}{
		"status":     boolToStatus(allHealthy),
		"mechanisms": statuses,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.startTime).Seconds()

	cacheSize := 0
	if s.store != nil {
		cacheSize = s.store.Len()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"cache_size":     cacheSize,
	})
}

// cacheHandler returns a secret-free snapshot of the shared secret cache:
// keys, iteration counts, and last-access times only. Never the derived
// secrets themselves.
func (s *Server) cacheHandler(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []scram.CacheKeyInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.store.Snapshot())
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func boolToStatus(b bool) string {
	if b {
		return "healthy"
	}
	return "unhealthy"
}
