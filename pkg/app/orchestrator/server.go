// Package orchestrator implements the transfer orchestrator process.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stablemesh/cctp-middleware/pkg/app/httpserver"
	"github.com/stablemesh/cctp-middleware/pkg/attestation"
	"github.com/stablemesh/cctp-middleware/pkg/chain"
	"github.com/stablemesh/cctp-middleware/pkg/config"
	"github.com/stablemesh/cctp-middleware/pkg/pgutil"
	"github.com/stablemesh/cctp-middleware/pkg/registry"
	"github.com/stablemesh/cctp-middleware/pkg/store"
	"github.com/stablemesh/cctp-middleware/pkg/tracker"
)

const (
	defaultGracefulShutdownTimeout = 30 * time.Second
	defaultHTTPMiddlewareTimeout   = 60 * time.Second
	defaultHTTPReadTimeout         = 15 * time.Second
	defaultHTTPIdleTimeout         = 60 * time.Second

	pruneInterval = 24 * time.Hour
)

// Server holds configuration for the orchestrator process.
type Server struct {
	cfg *config.Config
}

// NewServer initializes a new orchestrator Server.
func NewServer(cfg *config.Config) *Server {
	return &Server{cfg: cfg}
}

// Run starts the tracker and the HTTP API. It blocks until an OS shutdown
// signal is received or a fatal server error occurs.
func (s *Server) Run() error {
	if s.cfg == nil {
		return fmt.Errorf("nil config")
	}
	cfg := s.cfg

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting CCTP transfer orchestrator")

	st, err := s.openStore(ctx, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	reg, err := registry.New(cfg.Networks)
	if err != nil {
		return fmt.Errorf("build network registry: %w", err)
	}

	attClient := attestation.NewClient(cfg.Attestation, logger)

	executor, err := chain.NewEVMExecutor(cfg.Signer, logger)
	if err != nil {
		return fmt.Errorf("initialize chain executor: %w", err)
	}
	defer executor.Close()

	bus := tracker.NewBus()
	trk := tracker.New(cfg.Tracker, st, attClient, executor, reg, bus, logger)
	defer trk.Close()

	go s.pruneLoop(ctx, st, logger)

	router := s.newRouter(trk, attClient, reg, logger)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:        serverAddr,
		Handler:     router,
		ReadTimeout: defaultHTTPReadTimeout,
		IdleTimeout: defaultHTTPIdleTimeout,
		// WriteTimeout stays unset so SSE event streams are not cut off.
	}

	return httpserver.ServeAndWait(ctx, logger, httpServer, defaultGracefulShutdownTimeout)
}

// openStore builds the configured store backend.
func (s *Server) openStore(ctx context.Context, logger *zap.Logger) (store.Store, error) {
	cfg := s.cfg
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := pgutil.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect transfer db: %w", err)
		}
		pg, err := store.NewPGStore(db, cfg.Storage.MaxTransfers, logger)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := pg.Init(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("Transfer store ready", zap.String("backend", "postgres"))
		return pg, nil
	default:
		fs, err := store.NewFileStore(cfg.Storage.FilePath, cfg.Storage.MaxTransfers, logger)
		if err != nil {
			return nil, fmt.Errorf("open transfer file store: %w", err)
		}
		logger.Info("Transfer store ready",
			zap.String("backend", "file"),
			zap.String("path", cfg.Storage.FilePath))
		return fs, nil
	}
}

// pruneLoop removes aged-out terminal transfers on a daily cadence.
func (s *Server) pruneLoop(ctx context.Context, st store.Store, logger *zap.Logger) {
	retention := time.Duration(s.cfg.Storage.RetentionDays) * 24 * time.Hour
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.Prune(retention); err != nil {
				logger.Warn("Transfer prune failed", zap.Error(err))
			}
		}
	}
}

func (s *Server) newRouter(trk *tracker.Tracker, attClient *attestation.Client, reg *registry.Registry, logger *zap.Logger) http.Handler {
	cfg := s.cfg

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Get("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	})

	if cfg.Monitoring.Enabled {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("Metrics enabled", zap.String("path", "/metrics"))
	}

	h := newHandlers(trk, attClient, reg, logger)

	r.Route("/api/v1", func(r chi.Router) {
		// The request timeout covers the quick CRUD surface only. Execute
		// waits for the burn to mine and mint waits for the attestation,
		// both of which can legitimately outlast any sane request budget;
		// event streams manage their own lifetime.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(defaultHTTPMiddlewareTimeout))

			r.Post("/transfers", h.createTransfer)
			r.Get("/transfers", h.listTransfers)
			r.Get("/transfers/active", h.listActiveTransfers)
			r.Get("/transfers/{id}", h.getTransfer)
			r.Delete("/transfers/{id}", h.deleteTransfer)

			r.Get("/networks", h.listNetworks)
			r.Get("/attestation/health", h.attestationHealth)
		})

		r.Post("/transfers/{id}/execute", h.executeTransfer)
		r.Post("/transfers/{id}/mint", h.mintTransfer)
		r.Get("/transfers/{id}/events", h.transferEvents)
	})

	return r
}
