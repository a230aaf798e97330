package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sadikmahmudadive/esp32-and-mpu6050-simple-GUI-interface/internal/imu"
	"github.com/sadikmahmudadive/esp32-and-mpu6050-simple-GUI-interface/internal/server"
	"github.com/sadikmahmudadive/esp32-and-mpu6050-simple-GUI-interface/web"
)

func main() {
	configPath := flag.String("config", "/etc/mpuviz/config.yaml", "Path to config file")
	mock := flag.Bool("mock", false, "Use mock orientation data instead of serial (for testing)")
	port := flag.String("port", "", "Serial port to use (e.g. COM3 or /dev/ttyUSB0)")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] mpuviz starting")

	cfg := server.LoadConfig(*configPath)

	if *mock {
		cfg.Serial.Mock = true
	}
	if *port != "" {
		cfg.Serial.PortPath = *port
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}

	// Create context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	// Pick the orientation source once at startup
	var factory imu.SourceFactory
	if cfg.Serial.Mock {
		log.Println("[main] mock mode — serial disabled")
		factory = imu.MockFactory()
	} else {
		factory = imu.SerialFactory(cfg.Serial.PortPath, cfg.Serial.Candidates)
	}

	sup := imu.NewSupervisor(imu.SupervisorConfig{
		MaxRetries:  cfg.Retry.MaxAttempts,
		BackoffBase: time.Duration(cfg.Retry.BackoffMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Retry.BackoffMaxMs) * time.Millisecond,
		ReadTimeout: time.Duration(cfg.Serial.ReadMs) * time.Millisecond,
		OnStateChange: func(s imu.StreamState) {
			log.Printf("[main] stream state: %s", s)
		},
	}, factory)

	// The supervisor owns the serial handle; the dashboard only pulls
	// samples from it. A Failed stream takes the process down with a
	// non-zero exit so service managers notice.
	var failed atomic.Bool
	go func() {
		if err := sup.Run(ctx); err != nil {
			log.Printf("[main] orientation stream failed: %v", err)
			failed.Store(true)
			cancel()
		}
	}()

	srv := server.New(cfg, sup, web.FS)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[main] server exited: %v", err)
	}

	if failed.Load() {
		os.Exit(1)
	}
}
