package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/wudi/bastion/internal/bastion"
	"github.com/wudi/bastion/internal/config"
	"github.com/wudi/bastion/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (empty = environment variables only)")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Bastion %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.NewLoader().Load(*configPath)
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	// Initialize structured logger
	logger, err := logging.NewWithOptions(cfg.Logging.Level, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.Rotation.MaxSizeMB,
		MaxBackups: cfg.Logging.Rotation.MaxBackups,
		MaxAgeDays: cfg.Logging.Rotation.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	upstream, err := buildUpstream(cfg.Server.UpstreamURL)
	if err != nil {
		logging.Error("Invalid upstream URL", zap.Error(err))
		os.Exit(1)
	}

	logging.Info("Starting Bastion",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.String("address", cfg.Server.Address),
		zap.String("upstream", cfg.Server.UpstreamURL),
		zap.Strings("blocked_countries", cfg.Geo.BlockedCountries),
	)

	server, err := bastion.NewServer(cfg, *configPath, upstream)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}

// buildUpstream returns the protected handler: a reverse proxy when
// an upstream is configured, a 404 handler otherwise.
func buildUpstream(rawURL string) (http.Handler, error) {
	if rawURL == "" {
		logging.Warn("No upstream configured, filtered requests get 404")
		return http.NotFoundHandler(), nil
	}
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL: %w", err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("upstream URL must be http or https, got %q", target.Scheme)
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}
