// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ptcfleet/accountserver/internal/api"
	"github.com/ptcfleet/accountserver/internal/config"
	"github.com/ptcfleet/accountserver/internal/importer"
	xlog "github.com/ptcfleet/accountserver/internal/log"
	"github.com/ptcfleet/accountserver/internal/requestlog"
	"github.com/ptcfleet/accountserver/internal/scheduler"
	"github.com/ptcfleet/accountserver/internal/store"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const reclaimInterval = 5 * time.Minute

func main() {
	configPath := flag.String("config", "config.ini", "path to config file (INI)")
	accountsPath := flag.String("accounts", "accounts.txt", "path to the bulk account import file")
	requestLogPath := flag.String("request-log", ".request_log.json", "path to the request log snapshot")
	verbose := flag.Bool("v", false, "debug logging")
	trace := flag.Bool("vv", false, "trace logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	level := "info"
	if *trace {
		level = "trace"
	} else if *verbose {
		level = "debug"
	}
	xlog.Configure(xlog.Config{
		Level:   level,
		Service: "accountserver",
		Version: version,
	})
	logger := xlog.WithComponent("main")
	logger.Info().Msg("initializing server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("missing required setting, check your config")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open("mysql", cfg.DSN())
	if err != nil {
		logger.Error().Err(err).Msg("failed to open account store")
		os.Exit(1)
	}
	defer func() { _ = st.Close() }()

	rlog := requestlog.Open(*requestLogPath, cfg.RateLimitNumber)
	sched := scheduler.New(cfg, st, rlog)

	if _, err := importer.LoadFile(ctx, *accountsPath, st); err != nil {
		logger.Error().Err(err).Msg("failed to import accounts")
		os.Exit(1)
	}

	if stats, err := sched.Stats(ctx); err == nil {
		logger.Info().Interface("stats", stats).Msg("startup stats")
	} else {
		logger.Warn().Err(err).Msg("failed to compute startup stats")
	}

	go sched.RunReclaimer(ctx, reclaimInterval)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           api.New(cfg, sched).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr()).Msg("start listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("graceful shutdown failed")
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server failed")
			os.Exit(1)
		}
	}
}
