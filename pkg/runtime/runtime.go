// Package runtime wires config, logging, the registry, and the admin HTTP
// surface into one process lifecycle, the way the teacher's runtime package
// wires its own config/logger/router triple.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	appevents "github.com/KKQ-KKQ/sfizz/internal/events"
	apphttp "github.com/KKQ-KKQ/sfizz/internal/http"
	applogger "github.com/KKQ-KKQ/sfizz/internal/logger"
	"github.com/KKQ-KKQ/sfizz/internal/poolconfig"
	"github.com/KKQ-KKQ/sfizz/internal/ws"
	"github.com/KKQ-KKQ/sfizz/pkg/filepool"
)

// Server owns the registry and the admin HTTP listener for one process.
type Server struct {
	cfg      poolconfig.Config
	logger   *zap.Logger
	registry *filepool.GlobalRegistry
	bus      *appevents.Bus
	server   *http.Server
}

// New loads configuration from configPath (or discovers one when empty),
// builds the registry's event bus and the admin router, and returns a
// Server ready for Run.
func New(configPath string) (*Server, error) {
	cfg, err := poolconfig.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load filepool config: %w", err)
	}

	logger, err := applogger.New(cfg.Log)
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	logger.Info("filepool logger configured",
		zap.String("level", cfg.Log.Level),
		zap.Bool("stdout", cfg.Log.Stdout),
		zap.Bool("file_enabled", cfg.Log.File.Enabled),
	)
	logger.Info("filepool config loaded",
		zap.String("config_path", configPath),
		zap.String("root_dir", cfg.RootDir),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Duration("file_clearing_period", cfg.FileClearingPeriod()),
	)

	bus := appevents.NewBus()
	sink := appevents.NewSink(bus, "default")

	registry := filepool.NewGlobalRegistry(filepool.RegistryOptions{
		FileClearingPeriod: cfg.FileClearingPeriod(),
		LoaderWorkers:      cfg.DefaultNumLoaderThreads,
		Logger:             logger,
		Sink:               sink,
	})

	wsHandler := ws.NewHandler(logger, bus)
	router := apphttp.NewRouter(registry, wsHandler, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	return &Server{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		bus:      bus,
		server:   httpServer,
	}, nil
}

// Run blocks serving the admin HTTP surface until Shutdown is called.
func (s *Server) Run() error {
	if s == nil || s.server == nil {
		return nil
	}
	s.logger.Info("starting admin http server", zap.String("addr", s.cfg.HTTPAddr))
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	if s == nil || s.server == nil {
		return ""
	}
	return s.server.Addr
}

// Registry exposes the underlying registry, e.g. for a FilePool to be
// attached to it before Run is called.
func (s *Server) Registry() *filepool.GlobalRegistry {
	return s.registry
}

// Shutdown stops the HTTP listener, waiting up to ctx's deadline for
// in-flight requests, then closes the registry, which waits for its
// collector and loader jobs to finish regardless of ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	err := ignoreServerClosed(s.server.Shutdown(ctx))
	s.registry.Close()
	return err
}

func ignoreServerClosed(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
