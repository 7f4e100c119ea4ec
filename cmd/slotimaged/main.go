// Command slotimaged runs the image binding stack headless: each URL given on
// the command line is bound to its own slot, and slot writes are logged.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-slotimage/pkg/config"
	"github.com/illmade-knight/go-slotimage/pkg/fetch"
	"github.com/illmade-knight/go-slotimage/pkg/logging"
	"github.com/illmade-knight/go-slotimage/pkg/microservice"
	"github.com/illmade-knight/go-slotimage/pkg/slots"
)

type logRenderer struct {
	logger zerolog.Logger
}

func (r logRenderer) RenderImage(slot slots.SlotID, img *fetch.Image) {
	b := img.Bounds()
	r.logger.Info().Int("slot", int(slot)).Str("url", img.URL).Int("width", b.Dx()).Int("height", b.Dy()).Msg("Slot rendered.")
}

func (r logRenderer) RenderPlaceholder(slot slots.SlotID) {
	r.logger.Info().Int("slot", int(slot)).Msg("Slot placeholder.")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config failed: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogPretty)

	svc, err := microservice.NewImageService(cfg, logRenderer{logger: logger}, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build image service.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start image service.")
	}
	for i, url := range os.Args[1:] {
		svc.Binder.BindToSlot(slots.SlotID(i), url)
	}

	// SIGUSR1 stands in for a host memory-pressure signal.
	pressure := make(chan os.Signal, 1)
	signal.Notify(pressure, syscall.SIGUSR1)

wait:
	for {
		select {
		case <-pressure:
			svc.ReleaseMemory()
		case <-ctx.Done():
			break wait
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Image service shutdown incomplete.")
	}
}
