// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workgraph wires the workgraph service: entity storage, graph
// assembly, item linking, per-user layouts and live presence, served over
// HTTP and a multiplexed WebSocket.
//
// # Usage
//
//	svc, err := workgraph.New(workgraph.Config{DataDir: "data"}, nil)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//	return svc.Run(ctx)
//
// Deployments behind an identity provider pass their own
// extensions.AuthProvider through ServiceOptions.
package workgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/AleutianAI/workgraph/pkg/extensions"
	"github.com/AleutianAI/workgraph/services/workgraph/events"
	"github.com/AleutianAI/workgraph/services/workgraph/graph"
	"github.com/AleutianAI/workgraph/services/workgraph/handlers"
	"github.com/AleutianAI/workgraph/services/workgraph/layout"
	"github.com/AleutianAI/workgraph/services/workgraph/linker"
	"github.com/AleutianAI/workgraph/services/workgraph/observability"
	"github.com/AleutianAI/workgraph/services/workgraph/presence"
	"github.com/AleutianAI/workgraph/services/workgraph/routes"
	wgbadger "github.com/AleutianAI/workgraph/services/workgraph/storage/badger"
	"github.com/AleutianAI/workgraph/services/workgraph/storage/sqlite"
	"github.com/AleutianAI/workgraph/services/workgraph/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/text/language"
)

const serviceName = "workgraph"

// Service is the workgraph service lifecycle.
type Service interface {
	// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
	Run(ctx context.Context) error

	// Router returns the configured engine for tests.
	Router() *gin.Engine

	// Close releases storage and telemetry. Safe to call once after Run.
	Close() error
}

// Config holds service configuration. All fields are optional.
type Config struct {
	// Port is the HTTP port. Default: 12230.
	Port int

	// DataDir holds workgraph.db and the layouts directory. Default: "data".
	DataDir string

	// InMemoryLayouts keeps layouts in RAM instead of DataDir/layouts.
	InMemoryLayouts bool

	// GinMode is passed to gin.SetMode. Default: "release".
	GinMode string

	// OTelEndpoint enables OTLP trace export when set.
	OTelEndpoint string

	// TraceExporter overrides the trace exporter choice ("otlp", "stdout",
	// "none"). Default: otlp when OTelEndpoint is set, otherwise none.
	TraceExporter string

	// MetricExporter selects where OpenTelemetry meters go. Default:
	// "prometheus", served on /metrics.
	MetricExporter string

	// Locale orders editor names in presence snapshots.
	Locale language.Tag

	// MaxPatchBytes caps one relayed patch. Default: 64 KiB.
	MaxPatchBytes int

	// Live tunes the WebSocket channel.
	Live handlers.LiveConfig

	// RefConcurrency caps parallel per-task ref loads in a graph walk.
	// Zero keeps the assembler default.
	RefConcurrency int

	// ShutdownTimeout bounds graceful shutdown. Default: 10s.
	ShutdownTimeout time.Duration
}

type service struct {
	config Config
	opts   extensions.ServiceOptions

	router   *gin.Engine
	registry *prometheus.Registry

	store   *sqlite.Store
	layouts *wgbadger.DB

	stopBridge        func()
	telemetryShutdown func(context.Context) error
}

// New opens storage and builds the router.
//
// # Inputs
//
//   - cfg: Service configuration; defaults fill zero fields.
//   - opts: Injectable implementations. Nil uses extensions.DefaultOptions.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: Storage or telemetry setup failed. Nothing is left open.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config:   applyConfigDefaults(cfg),
		registry: prometheus.NewRegistry(),
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if err := s.initTelemetry(); err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := s.initStorage(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	s.initRouter()
	return s, nil
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.MaxPatchBytes <= 0 {
		cfg.MaxPatchBytes = presence.DefaultMaxPatchBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

func (s *service) initTelemetry() error {
	tcfg := telemetry.DefaultConfig(serviceName, s.config.OTelEndpoint)
	if s.config.TraceExporter != "" {
		tcfg.TraceExporter = s.config.TraceExporter
	}
	if s.config.MetricExporter != "" {
		tcfg.MetricExporter = s.config.MetricExporter
	}
	tcfg.Registerer = s.registry

	shutdown, err := telemetry.Init(context.Background(), tcfg)
	if err != nil {
		return err
	}
	s.telemetryShutdown = shutdown
	slog.Info("Telemetry initialized",
		"traces", tcfg.TraceExporter,
		"metrics", tcfg.MetricExporter)
	return nil
}

func (s *service) initStorage() error {
	store, err := sqlite.Open(sqlite.Config{Path: filepath.Join(s.config.DataDir, "workgraph.db")})
	if err != nil {
		return err
	}
	s.store = store

	bcfg := wgbadger.DefaultConfig(filepath.Join(s.config.DataDir, "layouts"))
	if s.config.InMemoryLayouts {
		bcfg = wgbadger.InMemoryConfig()
	}
	bcfg.Logger = slog.Default().With("component", "badger")
	layouts, err := wgbadger.Open(bcfg)
	if err != nil {
		return err
	}
	s.layouts = layouts

	slog.Info("Storage opened",
		"data_dir", s.config.DataDir,
		"in_memory_layouts", layouts.InMemory())
	return nil
}

func (s *service) initRouter() {
	metrics := observability.NewMetrics(s.registry)
	emitter := events.NewEmitter()

	hub := presence.NewHub(metrics)
	tracker := presence.NewTracker(hub,
		presence.WithLocale(s.config.Locale),
		presence.WithObserver(metrics))
	relay := presence.NewRelay(hub, s.config.MaxPatchBytes, metrics)
	s.stopBridge = presence.BridgeLayoutEvents(emitter, hub)

	roots := handlers.StoreRootChecker(s.store)

	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))
	s.router.Use(metrics.Middleware())

	routes.SetupRoutes(s.router, routes.Dependencies{
		Assembler: graph.NewAssembler(s.store, graph.WithRefConcurrency(s.config.RefConcurrency)),
		Linker:    linker.NewLinker(s.store),
		Layouts:   layout.NewStore(s.layouts, emitter),
		Roots:     roots,
		Live: &handlers.Live{
			Hub:     hub,
			Tracker: tracker,
			Relay:   relay,
			Roots:   roots,
			Metrics: metrics,
			Config:  s.config.Live,
		},
		Metrics:  metrics,
		Gatherer: s.registry,
		Options:  s.opts,
	})
}

// Run serves until ctx is cancelled or the listener fails.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting workgraph server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down workgraph server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) Close() error {
	return s.cleanup()
}

func (s *service) cleanup() error {
	var errs []error
	if s.stopBridge != nil {
		s.stopBridge()
	}
	if s.layouts != nil {
		errs = append(errs, s.layouts.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.telemetryShutdown(ctx); err != nil {
			slog.Error("failed to shutdown telemetry", "error", err)
		}
	}
	return errors.Join(errs...)
}

var _ Service = (*service)(nil)
