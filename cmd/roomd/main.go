package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/config"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/control"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/discovery"
	httpx "github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/transport/http"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/internal/transport/ws"
	"github.com/yomo40/dglab-yokonex-charging-panel-sub002/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	var (
		configPath = pflag.String("config", "", "путь к yaml-конфигу (иначе CONFIG_PATH)")
		httpAddr   = pflag.String("http-addr", "", "адрес HTTP-шлюза, перекрывает конфиг")
		roomPort   = pflag.Int("room-port", 0, "TCP-порт комнаты, перекрывает конфиг")
		nickname   = pflag.String("nickname", "", "ник оператора, перекрывает конфиг")
	)
	pflag.Parse()

	// --- config ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *roomPort != 0 {
		cfg.Room.Port = *roomPort
	}
	if *nickname != "" {
		cfg.Room.Nickname = *nickname
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting roomd",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "room_port", cfg.Room.Port)

	// --- control plane ---
	plane := control.New(control.Config{
		Nickname:   cfg.Room.Nickname,
		RoomPort:   cfg.Room.Port,
		MaxMembers: cfg.Room.MaxMembers,
		DeviceID:   cfg.Room.DeviceID,
		HasDevice:  cfg.Room.HasDevice,
		Scan: discovery.Config{
			Port:         cfg.Room.Port,
			ProbeTimeout: time.Duration(cfg.Discovery.ProbeTimeoutMs) * time.Millisecond,
			ScanEvery:    time.Duration(cfg.Discovery.ScanEverySec) * time.Second,
			PoolSize:     cfg.Discovery.PoolSize,
		},
	})
	plane.Start(context.Background())

	// --- WS & HTTP ---
	wsServer := ws.NewServer(plane)
	handler := httpx.NewHandler(plane)
	router := httpx.NewRouter(handler, wsServer)
	httpSrv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- run ---
	errCh := make(chan error, 1)

	go func() {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// --- graceful shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal", "sig", sig)
	case err := <-errCh:
		slog.Error("server error", "err", err)
	}

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(ctxShutdown)
	if err := plane.Close(); err != nil {
		slog.Debug("plane close", "err", err)
	}
	slog.Info("stopped")
}
