// Copyright 2026 Canonical Ltd.
// SPDX-License-Identifier: AGPL-3.0

package status

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/canonical/membership-service/internal/logging"
	"github.com/canonical/membership-service/internal/monitoring"
	"github.com/canonical/membership-service/internal/tracing"
	"github.com/canonical/membership-service/internal/version"
)

const readyTimeout = 2 * time.Second

// PingerInterface is satisfied by the database client. A nil pinger means
// the service runs without external storage.
type PingerInterface interface {
	Ping(context.Context) error
}

type BuildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"goVersion,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

type Status struct {
	Status    string     `json:"status"`
	Version   string     `json:"version"`
	BuildInfo *BuildInfo `json:"buildInfo,omitempty"`
}

type API struct {
	db PingerInterface

	tracer  tracing.TracingInterface
	monitor monitoring.MonitorInterface
	logger  logging.LoggerInterface
}

func (a *API) RegisterEndpoints(mux chi.Router) {
	mux.Get("/api/v0/status", a.alive)
	mux.Get("/api/v0/status/ready", a.ready)
}

func (a *API) alive(w http.ResponseWriter, r *http.Request) {
	a.write(w, http.StatusOK, Status{Status: "ok", Version: version.Version, BuildInfo: buildInfo()})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	ctx, span := a.tracer.Start(r.Context(), "status.API.ready")
	defer span.End()

	if a.db != nil {
		ctx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()

		if err := a.db.Ping(ctx); err != nil {
			a.logger.Errorf("database is not reachable: %v", err)
			a.setAvailability("database", 0)
			a.write(w, http.StatusServiceUnavailable, Status{Status: "unavailable", Version: version.Version})
			return
		}
		a.setAvailability("database", 1)
	}

	a.write(w, http.StatusOK, Status{Status: "ok", Version: version.Version})
}

func (a *API) setAvailability(component string, value float64) {
	if err := a.monitor.SetDependencyAvailability(map[string]string{"component": component}, value); err != nil {
		a.logger.Debugf("error recording availability metric: %v", err)
	}
}

func (a *API) write(w http.ResponseWriter, status int, body Status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.logger.Errorf("failed to encode status: %v", err)
	}
}

func buildInfo() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}

	b := &BuildInfo{Version: version.Version, GoVersion: info.GoVersion}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			b.Commit = s.Value
		}
	}
	return b
}

func NewAPI(db PingerInterface, tracer tracing.TracingInterface, monitor monitoring.MonitorInterface, logger logging.LoggerInterface) *API {
	a := new(API)

	a.db = db

	a.tracer = tracer
	a.monitor = monitor
	a.logger = logger

	return a
}
