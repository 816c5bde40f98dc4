package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/ingate/ingate/internal/config"
	"github.com/ingate/ingate/internal/domain"
	"github.com/ingate/ingate/internal/handler"
	"github.com/ingate/ingate/internal/service"
	"github.com/ingate/ingate/internal/transport"
	"github.com/ingate/ingate/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		File:   cfg.Logging.File,
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"port":           cfg.Server.Port,
		"max_concurrent": cfg.Admission.MaximumConcurrentRequests,
		"workers":        cfg.Dispatcher.Workers,
		"unit":           cfg.Unit.Name,
	}).Info("Starting ingate server")

	metrics := service.NewMetrics()
	pool := service.NewWorkerPool(cfg.Dispatcher.Workers, log)
	defer pool.Stop()

	chain, admission, err := buildChain(cfg, pool, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to assemble handler chain")
	}

	bridge, err := transport.NewHTTPBridge(chain, metrics, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to create transport bridge")
	}

	router := mux.NewRouter()
	admin := &adminAPI{admission: admission, metrics: metrics, logger: log}
	admin.register(router)
	router.PathPrefix("/").Handler(bridge)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Server shutdown failed")
	}
	log.Info("Server stopped")
}

// loadConfig prefers a file named by INGATE_CONFIG, falling back to
// environment overrides over defaults
func loadConfig() (*config.Config, error) {
	if configFile := os.Getenv("INGATE_CONFIG"); configFile != "" {
		return config.LoadFromFile(configFile)
	}
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildChain assembles throttle -> admission -> invoker over a sample
// echo unit
func buildChain(cfg *config.Config, pool *service.WorkerPool, metrics *service.Metrics, log *logger.Logger) (domain.Handler, *handler.AdmissionController, error) {
	provider := service.NewSingletonProvider(func() (service.Unit, error) {
		return service.UnitFunc(func(w http.ResponseWriter, r *http.Request) error {
			w.Header().Set("Content-Type", "text/plain")
			_, err := fmt.Fprintf(w, "ingate: %s %s\n", r.Method, r.URL.Path)
			return err
		}), nil
	})

	unit := service.NewManagedUnit(cfg.Unit.Name, provider, cfg.Unit.AsyncSupported, log)
	invoker, err := handler.NewUnitInvoker(unit, metrics, log)
	if err != nil {
		return nil, nil, err
	}

	admission, err := handler.NewAdmissionController(cfg.Admission.MaximumConcurrentRequests, invoker, pool, metrics, log)
	if err != nil {
		return nil, nil, err
	}

	var chain domain.Handler = admission
	if cfg.Throttle.Enabled {
		chain, err = handler.NewThrottle(cfg.Throttle, admission, metrics, log)
		if err != nil {
			return nil, nil, err
		}
	}

	return chain, admission, nil
}
