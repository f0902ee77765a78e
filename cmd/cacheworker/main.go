package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/smartstudy-sync/cacheworker"
	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/jrsteele09/smartstudy-sync/internal/logging"
	"github.com/jrsteele09/smartstudy-sync/internal/metrics"
	"github.com/jrsteele09/smartstudy-sync/storage/backends"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("cache worker stopped")
	}
	log.Info().Msg("cache worker stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)
	displayAppname(c.GetAppName() + " Cache")

	ctx := context.Background()
	store, closer, err := backends.New(ctx, c)
	if err != nil {
		return err
	}
	defer closer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	worker, err := cacheworker.New(c, cacheworker.NewCacheStorage(store),
		cacheworker.WithMetrics(metrics.NewCollector(registry)),
	)
	if err != nil {
		return err
	}
	if err := worker.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := worker.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	server := &http.Server{
		Addr:              c.GetListenAddr(),
		Handler:           cacheworker.NewRouter(worker, metrics.Handler(registry)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		errs <- listenAndServe(server)
	}()

	select {
	case err := <-errs:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(server)
}

func listenAndServe(server *http.Server) error {
	log.Info().Str("addr", server.Addr).Msg("cache worker listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
