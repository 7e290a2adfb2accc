// Command simcontactsd aggregates the SIM phonebooks of every attached modem
// into one vCard file and serves it over HTTP.
// Run with --backend=mock to use simulated modems (no modem required).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/micro-nova/simcontacts/internal/api"
	"github.com/micro-nova/simcontacts/internal/atmodem"
	"github.com/micro-nova/simcontacts/internal/auth"
	"github.com/micro-nova/simcontacts/internal/config"
	"github.com/micro-nova/simcontacts/internal/controller"
	"github.com/micro-nova/simcontacts/internal/events"
	"github.com/micro-nova/simcontacts/internal/identity"
	"github.com/micro-nova/simcontacts/internal/modem"
	"github.com/micro-nova/simcontacts/internal/ofono"
	"github.com/micro-nova/simcontacts/internal/snapshot"
	"github.com/micro-nova/simcontacts/internal/zeroconf"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Configure logging
	logLevel, _ := config.ParseLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
	if cfg.ConfigFile != "" {
		slog.Info("config loaded", "file", cfg.ConfigFile)
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Modem backend
	mgr, err := newManager(cfg)
	if err != nil {
		slog.Error("backend initialization failed", "backend", cfg.Backend, "err", err)
		os.Exit(1)
	}

	// Transient vCard file and snapshot publisher
	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			slog.Error("cannot create data directory", "path", cfg.DataDir, "err", err)
			os.Exit(1)
		}
	}
	store, err := snapshot.NewFileStore(cfg.DataDir)
	if err != nil {
		slog.Error("cannot create contacts file", "err", err)
		os.Exit(1)
	}
	bus := events.NewBus()
	pub := snapshot.NewPublisher(store, bus)
	slog.Info("contacts file", "path", store.Path())

	// Controller
	ctrl := controller.New(pub)
	ctrlDone := make(chan struct{})
	go func() {
		defer close(ctrlDone)
		if err := ctrl.Run(ctx, mgr); err != nil && !errors.Is(err, controller.ErrClosed) {
			slog.Error("modem backend stopped", "backend", cfg.Backend, "err", err)
			cancel()
		}
	}()

	// Auth service
	authSvc, err := auth.NewService(cfg.KeysDir)
	if err != nil {
		slog.Error("auth service initialization failed", "err", err)
		os.Exit(1)
	}
	defer authSvc.Close()

	info := identity.Get(cfg.DataDir, cfg.Backend)

	// Zeroconf mDNS registration
	if cfg.Zeroconf {
		zc := zeroconf.New(cfg.Name, listenPort(cfg.Addr), zeroconf.TXT(info.Version, info.Hostname))
		go func() {
			if err := zc.Start(ctx); err != nil {
				slog.Warn("zeroconf failed", "err", err)
			}
		}()
	}

	// HTTP server
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.NewRouter(ctrl, pub, bus, info, authSvc),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout (needed for SSE)
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("simcontacts listening", "addr", cfg.Addr, "backend", cfg.Backend, "version", info.Version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()

	// Graceful HTTP shutdown
	if err := srv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	// Stop importing before the file goes away
	ctrl.Close()
	<-ctrlDone
	if err := pub.Close(); err != nil {
		slog.Warn("failed to remove contacts file", "err", err)
	}

	slog.Info("shutdown complete")
}

func newManager(cfg *config.Config) (modem.Manager, error) {
	switch cfg.Backend {
	case config.BackendOfono:
		slog.Info("using oFono modem backend")
		return ofono.New(), nil
	case config.BackendAT:
		slog.Info("using AT-command modem backend", "ports", cfg.AT.Ports)
		return atmodem.New(atmodem.Config{
			Ports:        cfg.AT.Ports,
			BaudRate:     cfg.AT.BaudRate,
			PollInterval: cfg.AT.PollInterval,
			Rate:         cfg.AT.Rate,
			Timeout:      cfg.AT.Timeout,
		})
	case config.BackendMock:
		slog.Info("using mock modem backend", "modems", cfg.Mock.Modems)
		return modem.NewMock(modem.DemoModems(cfg.Mock.Modems)...), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

// listenPort extracts the TCP port from a listen address, defaulting to 80.
func listenPort(addr string) int {
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		return 80
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return 80
	}
	return port
}
