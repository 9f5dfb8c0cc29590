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
	"go.uber.org/zap"

	"evsiting/internal/api"
	"evsiting/internal/buildinfo"
	"evsiting/internal/config"
	"evsiting/internal/logging"
)

func main() {
	fs := pflag.NewFlagSet("api", pflag.ExitOnError)
	config.RegisterFlags(fs)
	config.RegisterServerFlags(fs)
	version := fs.Bool("version", false, "print version and exit")
	_ = fs.Parse(os.Args[1:])
	if *version {
		fmt.Println(buildinfo.String("evsiting-api"))
		return
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srvDeps, err := api.NewServer(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to init server", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srvDeps.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		if err := srvDeps.Shutdown(sctx); err != nil {
			log.Warn("run did not stop in time", zap.Error(err))
		}
	}()

	log.Info("API listening", zap.String("addr", srv.Addr), zap.String("scenario", srvDeps.Scenario.Name),
		zap.String("broker", srvDeps.Broker.Name()), zap.Any("build", buildinfo.Info()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server error", zap.Error(err))
	}
	<-stopped
}
