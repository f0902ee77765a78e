package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/smartstudy-sync/internal/apistub"
	"github.com/jrsteele09/smartstudy-sync/internal/config"
	"github.com/jrsteele09/smartstudy-sync/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)
	displayAppname(c.GetAppName() + " API")

	options := []apistub.Option{apistub.WithEnv(c.GetEnv())}
	if secret := config.GetEnv("STUB_JWT_SECRET", ""); secret != "" {
		options = append(options, apistub.WithSecret(secret))
	}
	options = append(options, apistub.WithTokenExpiry(
		config.GetDurationEnv("STUB_ACCESS_TTL", 900*time.Second),
		config.GetDurationEnv("STUB_REFRESH_TTL", 14*24*time.Hour),
	))

	server := &http.Server{
		Addr:              ":" + config.GetEnv("STUB_PORT", "8080"),
		Handler:           apistub.New(options...),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("api stub listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server.ListenAndServe")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server.Shutdown")
	}
	log.Info().Msg("api stub stopped")
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
