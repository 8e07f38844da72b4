// Package debug holds the inspection tools that are only started when the
// server runs in debug mode.
package debug

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/replication"
)

// Snapshots holds the latest entity listing published by the tick goroutine
// for the HTTP handlers to read.
type Snapshots struct {
	entities atomic.Value
	tick     atomic.Uint64
}

func (s *Snapshots) Publish(entities []replication.EntitySnapshot) {
	s.entities.Store(entities)
	s.tick.Add(1)
}

func (s *Snapshots) Entities() []replication.EntitySnapshot {
	entities, _ := s.entities.Load().([]replication.EntitySnapshot)
	return entities
}

// Router serves pprof under /debug/pprof, the collectors of gatherer under
// /metrics and the published entities under /debug/entities.
func Router(gatherer prometheus.Gatherer, snapshots *Snapshots) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Mount("/debug", middleware.Profiler())
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/debug/entities", func(w http.ResponseWriter, req *http.Request) {
		entities := snapshots.Entities()
		if entities == nil {
			entities = []replication.EntitySnapshot{}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Tick     uint64                       `json:"tick"`
			Entities []replication.EntitySnapshot `json:"entities"`
		}{snapshots.tick.Load(), entities})
	})
	return r
}

// StartUtilities starts the debug HTTP server on localhost:port. The returned
// server can be shut down by the caller.
func StartUtilities(logger *logrus.Logger, port int, handler http.Handler) *http.Server {
	listenerAddr := fmt.Sprintf("localhost:%d", port)
	logger.Infof("starting debug server on %s", listenerAddr)

	srv := &http.Server{
		Addr:              listenerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Infof("error starting debug server: %s", err)
		}
	}()
	return srv
}
