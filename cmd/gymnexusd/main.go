// Package main runs gymnexusd, the local daemon that keeps the workout
// library usable offline. Clients talk to it over REST and WebSocket on
// localhost.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/kimhsiao/gymnexus/backend/internal/app"
	"github.com/kimhsiao/gymnexus/backend/internal/config"
	"github.com/kimhsiao/gymnexus/backend/internal/logging"
)

type flags struct {
	configPath string
	addr       string
	dataDir    string
	logLevel   string
	printCfg   bool
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "gymnexusd: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("gymnexusd", pflag.ContinueOnError)
	fs.StringVarP(&f.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&f.addr, "addr", "", "listen address (overrides daemon.addr)")
	fs.StringVar(&f.dataDir, "data-dir", "", "data directory (overrides data_dir)")
	fs.StringVar(&f.logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	fs.BoolVar(&f.printCfg, "print-config", false, "print the effective configuration and exit")
	err := fs.Parse(args)
	return f, err
}

// loadConfig resolves file, environment and flag settings in that order.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}
	if f.addr != "" {
		cfg.Daemon.Addr = f.addr
	}
	if f.dataDir != "" {
		cfg.DataDir = f.dataDir
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}
	if f.printCfg {
		fmt.Print(cfg.String())
		return nil
	}

	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	hub := NewWSHub()
	unsubscribeSync := a.Sync.Subscribe(hub.BroadcastSyncState)
	unsubscribeNet := a.Network.Subscribe(hub.BroadcastNetworkStatus)

	server := &http.Server{
		Addr:              cfg.Daemon.Addr,
		Handler:           newMux(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("gymnexusd listening", map[string]interface{}{
			"addr":     cfg.Daemon.Addr,
			"data_dir": cfg.DataDir,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
	case err = <-serveErr:
		if err != nil {
			logging.Error("server stopped", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.ShutdownTimeout)
	defer cancel()

	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logging.Warn("http shutdown incomplete", map[string]interface{}{"error": serr.Error()})
	}
	unsubscribeNet()
	unsubscribeSync()
	hub.Close()

	if cerr := a.Close(shutdownCtx); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
