package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vidplay/internal/config"
	"vidplay/internal/fetch"
	"vidplay/internal/logger"
	"vidplay/internal/models"
	"vidplay/internal/player"
	"vidplay/internal/sink"
	"vidplay/internal/surface"
)

func main() {
	// 1. Parse command-line arguments
	configFile := flag.String("c", "player.json", "Path to the session config file")
	logLevel := flag.String("L", "", "Log level override (error, warn, info, debug)")
	flag.Parse()

	// 2. Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.New("error").Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	// 3. Initialize logger
	log := logger.New(cfg.LogLevel)
	log.Infof("Starting headless playback session...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Wire the simulated platform: a clock-driven surface and a sink
	// that models appended media without decoding it.
	appendSeconds := models.DefaultFragmentDuration
	if cfg.Source.Live != nil && cfg.Source.Live.FragmentDuration > 0 {
		appendSeconds = cfg.Source.Live.FragmentDuration
	}
	memSink := sink.NewMemory(appendSeconds)
	sim := surface.NewSim()
	go sim.Run(ctx, 250*time.Millisecond)

	// 5. Start the session
	p, err := player.New(ctx, player.Config{
		Logger:  log,
		Fetch:   fetch.NewClient(log, cfg.UserAgent),
		Sink:    memSink,
		Surface: sim,
		OnState: func(st models.VideoState) {
			log.Infof("State: paused=%t seeking=%t error=%t t=%.2fs", st.Paused, st.Seeking, st.Error, st.CurrentTime)
		},
	}, cfg.Source)
	if err != nil {
		log.Errorf("Failed to start playback session: %v", err)
		os.Exit(1)
	}
	if err := p.Play(); err != nil {
		log.Warnf("Play rejected: %v", err)
	}

	// 6. Expose metrics when configured
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			log.Infof("Metrics listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("Metrics server failed: %v", err)
			}
		}()
	}

	// 7. Run until a shutdown signal arrives
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Infof("Shutting down...")

	if err := p.Close(); err != nil {
		log.Errorf("Session closed with error: %v", err)
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Metrics server shutdown failed: %v", err)
		}
	}
	if buf := memSink.Buffer(); buf != nil {
		bytes, appends, switches := buf.Stats()
		log.Infof("Session appended %d bytes in %d appends (%d type switches)", bytes, appends, switches)
	}
	log.Infof("Session exited gracefully")
}
