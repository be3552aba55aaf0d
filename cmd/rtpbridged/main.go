package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	rtpbridge "github.com/himanshujjp/asterisk-rtp-bridge"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	cfg, err := rtpbridge.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("rtpbridged: failed to load config")
	}

	sink := func(ssrc uint32, frame []byte) {
		log.Debug().Uint32("ssrc", ssrc).Int("bytes", len(frame)).Msg("rtpbridged: inbound frame (no pipeline wired)")
	}

	srv, err := rtpbridge.NewServer(cfg.Host, cfg.Port, sink, cfg.Codec, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("rtpbridged: failed to construct server")
	}

	registry := prometheus.NewRegistry()
	for _, c := range srv.MetricsCollectors() {
		registry.MustRegister(c)
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("rtpbridged: serving metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("rtpbridged: metrics server failed")
			}
		}()
	}

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("rtpbridged: failed to start")
	}
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Msg("rtpbridged: started")

	<-ctx.Done()
	log.Info().Msg("rtpbridged: shutting down")

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}
	if err := srv.Stop(); err != nil {
		log.Error().Err(err).Msg("rtpbridged: stop failed")
	}
}
