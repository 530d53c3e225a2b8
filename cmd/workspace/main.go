package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/infrastructure/config"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/shared/paths"
	"github.com/GriffinCanCode/zcraft/internal/workspace"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "zcraft:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	backendURL := flag.String("backend", cfg.Backend.URL, "Backend base URL")
	statusAddr := flag.String("status", cfg.Status.Addr, "Status server address (empty disables)")
	profilePath := flag.String("profile", cfg.Workspace.ProfilePath, "Connection profile path")
	logFile := flag.String("log-file", paths.Log(), `Log file ("-" for stderr)`)
	logLevel := flag.String("log-level", cfg.Logging.Level, "Log level")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development logging")
	noColor := flag.Bool("no-color", false, "Disable styled output")
	script := flag.String("c", "", `Run ";"-separated commands and exit`)
	flag.Parse()

	if *backendURL != cfg.Backend.URL {
		cfg.Backend.URL = strings.TrimSuffix(*backendURL, "/")
		if os.Getenv("ZCRAFT_TERMINAL_URL") == "" {
			if cfg.Backend.TerminalURL, err = config.TerminalURLFor(cfg.Backend.URL); err != nil {
				return fmt.Errorf("invalid backend url: %w", err)
			}
		}
	}
	cfg.Status.Addr = *statusAddr
	if *profilePath == "" {
		*profilePath = config.DefaultProfilePath()
	}

	logger, err := newLogger(*logFile, *logLevel, *dev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	profile, err := config.LoadProfile(*profilePath)
	if err != nil {
		logger.Warn("ignoring profile", zap.Error(err))
		profile = &config.Profile{}
	}

	ws := workspace.New(cfg, logger)
	ws.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ws.Close(ctx); err != nil {
			logger.Warn("shutdown", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sh := newShell(ws, os.Stdin, os.Stdout, newRenderer(!*noColor), logger).withProfile(*profilePath, profile)

	if *script != "" {
		for _, line := range strings.Split(*script, ";") {
			if err := sh.Exec(ctx, line); err != nil {
				break
			}
		}
		return nil
	}

	if history, err := openHistory(); err != nil {
		logger.Debug("history disabled", zap.Error(err))
	} else {
		defer history.Close()
		sh.withHistory(history)
	}

	return sh.Run(ctx)
}

func newLogger(path, level string, dev bool) (*logging.Logger, error) {
	cfg := logging.DefaultConfig()
	if dev {
		cfg = logging.DevelopmentConfig()
	}
	if level != "" {
		cfg.Level = level
	}
	cfg.File = path
	return logging.New(cfg)
}

func openHistory() (io.WriteCloser, error) {
	path := paths.History()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}
