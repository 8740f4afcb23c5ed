// Package bastion assembles the filtering pipeline, the protected
// listener and the admin listener from configuration.
package bastion

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/bastion/internal/alert"
	"github.com/wudi/bastion/internal/config"
	"github.com/wudi/bastion/internal/detect"
	"github.com/wudi/bastion/internal/geo"
	"github.com/wudi/bastion/internal/logging"
	"github.com/wudi/bastion/internal/metrics"
	"github.com/wudi/bastion/internal/middleware"
	"github.com/wudi/bastion/internal/pipeline"
	"github.com/wudi/bastion/internal/ratelimit"
	"github.com/wudi/bastion/internal/reputation"
	"github.com/wudi/bastion/internal/validate"
)

// Server runs the protected and admin listeners around a pipeline.
type Server struct {
	cfg      *config.Config
	pipeline *pipeline.Pipeline

	protected  *http.Server
	admin      *http.Server
	watcher    *config.Watcher
	dispatcher *alert.Dispatcher
}

// NewServer builds the pipeline from cfg and wraps upstream with it.
// upstream is the handler the filter protects.
func NewServer(cfg *config.Config, configPath string, upstream http.Handler) (*Server, error) {
	collector := metrics.NewCollector()

	components := pipeline.Components{Metrics: collector}

	if cfg.Reputation.Enabled {
		components.Reputation = reputation.NewTracker(reputation.Config{
			Threshold: cfg.Reputation.Threshold,
		})
	}

	if cfg.Geo.Enabled {
		engine, err := buildGeoEngine(cfg.Geo)
		if err != nil {
			return nil, err
		}
		components.Geo = engine
	}

	if cfg.RateLimit.Enabled {
		limiter, err := buildLimiter(cfg)
		if err != nil {
			return nil, err
		}
		components.RateLimit = limiter
	}

	if cfg.Detection.Enabled {
		detector, err := buildDetector(cfg.Detection)
		if err != nil {
			return nil, err
		}
		components.Detector = detector
	}

	if cfg.Validation.Enabled {
		components.Validator = validate.New(validate.Config{
			MaxRequestSize: cfg.Validation.MaxRequestSize,
		})
	}

	var dispatcher *alert.Dispatcher
	var sinks alert.MultiSink
	if cfg.Alerting.Webhooks.Enabled && len(cfg.Alerting.Webhooks.Endpoints) > 0 {
		dispatcher = alert.NewDispatcher(cfg.Alerting.Webhooks)
		sinks = append(sinks, dispatcher)
	}
	if cfg.Alerting.AuditFile.Enabled && cfg.Alerting.AuditFile.Path != "" {
		sinks = append(sinks, alert.NewAuditFileSink(cfg.Alerting.AuditFile))
	}
	if len(sinks) > 0 {
		components.Sink = sinks
	}

	p := pipeline.New(components, pipeline.Options{
		EnforceHeaders: cfg.Validation.EnforceHeaders,
	})

	s := &Server{
		cfg:        cfg,
		pipeline:   p,
		dispatcher: dispatcher,
	}

	chain := middleware.NewChain(middleware.RequestID(), p.Middleware())
	s.protected = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      chain.Then(upstream),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Admin.Enabled {
		adminAPI := pipeline.NewAdminAPI(p, collector, dispatcher)
		s.admin = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      adminAPI.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
	}

	if configPath != "" {
		if err := s.watchConfig(configPath); err != nil {
			logging.Warn("config watcher unavailable", zap.Error(err))
		}
	}

	return s, nil
}

func buildGeoEngine(cfg config.GeoConfig) (*geo.Engine, error) {
	var provider geo.Provider
	if cfg.DatabasePath != "" {
		p, err := geo.NewProvider(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open geo database: %w", err)
		}
		provider = geo.NewCachedProvider(p, cfg.CacheSize, cfg.CacheTTL)
	}
	return geo.New(geo.Config{
		BlockedCountries: cfg.BlockedCountries,
		AllowedCountries: cfg.AllowedCountries,
		LookupTimeout:    cfg.LookupTimeout,
	}, provider), nil
}

func buildLimiter(cfg *config.Config) (*ratelimit.Limiter, error) {
	limits := make(map[ratelimit.Category]ratelimit.CategoryLimit, len(cfg.RateLimit.Categories))
	for name, c := range cfg.RateLimit.Categories {
		limits[ratelimit.Category(name)] = ratelimit.CategoryLimit{
			Limit:         c.Limit,
			Window:        c.Window,
			BlockDuration: c.BlockDuration,
		}
	}

	if cfg.RateLimit.Mode == "redis" {
		if cfg.Redis.Address == "" {
			return nil, fmt.Errorf("rate limit mode is redis but no redis address configured")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := ratelimit.NewRedisStore(ratelimit.RedisStoreConfig{Client: client})
		return ratelimit.NewWithStore(limits, store), nil
	}
	return ratelimit.New(limits), nil
}

func buildDetector(cfg config.DetectionConfig) (*detect.Detector, error) {
	var extra []detect.SignatureSet
	if cfg.SignatureFile != "" {
		sets, err := detect.LoadSignatureFile(cfg.SignatureFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load signature file: %w", err)
		}
		extra = sets
	}
	detector, err := detect.New(detect.Config{
		MaxInspectBytes: cfg.MaxInspectBytes,
		Extra:           extra,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compile signatures: %w", err)
	}
	return detector, nil
}

// watchConfig applies the detection and geo sections live when the
// config file changes. Listener, rate limit and store settings
// require a restart: swapping the limiter would discard counters and
// active blocks.
func (s *Server) watchConfig(configPath string) error {
	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return err
	}
	watcher.OnChange(func(next *config.Config) {
		if next.Detection.Enabled {
			detector, err := buildDetector(next.Detection)
			if err != nil {
				logging.Error("signature reload failed, keeping current detector", zap.Error(err))
			} else {
				s.pipeline.ReplaceDetector(detector)
			}
		}
		if next.Geo.Enabled {
			engine, err := buildGeoEngine(next.Geo)
			if err != nil {
				logging.Error("geo reload failed, keeping current policy", zap.Error(err))
			} else {
				s.pipeline.ReplaceGeoEngine(engine)
			}
		}
	})
	if err := watcher.Start(); err != nil {
		return err
	}
	s.watcher = watcher
	return nil
}

// Start brings up the listeners without blocking.
func (s *Server) Start() error {
	errCh := make(chan error, 2)

	go func() {
		logging.Info("protected listener starting", zap.String("address", s.cfg.Server.Address))
		if err := s.protected.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("protected listener error: %w", err)
		}
	}()

	if s.admin != nil {
		go func() {
			logging.Info("admin listener starting", zap.String("address", s.cfg.Admin.Address))
			if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("admin listener error: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
	}
	return nil
}

// Run starts the listeners and blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info("shutting down gracefully")
	return s.Shutdown(s.cfg.Server.ShutdownTimeout)
}

// Shutdown drains the listeners, then closes the pipeline.
func (s *Server) Shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.watcher != nil {
		_ = s.watcher.Stop()
	}
	if s.admin != nil {
		if err := s.admin.Shutdown(ctx); err != nil {
			logging.Error("admin listener shutdown error", zap.Error(err))
		}
	}
	if err := s.protected.Shutdown(ctx); err != nil {
		logging.Error("protected listener shutdown error", zap.Error(err))
		return err
	}
	s.pipeline.Close()
	logging.Info("shutdown complete")
	return nil
}

// Pipeline exposes the pipeline, mainly for tests.
func (s *Server) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}
