package main

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"redskord/auth"
	"redskord/config"
	"redskord/db"
	"redskord/events"
	"redskord/server"
	"redskord/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx := context.Background()
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Metrics, "redskord")
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		logger.Error("Failed to create metrics", "error", err)
		os.Exit(1)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		logger.Error("Failed to initialize database", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			// Events are optional; the chat keeps working without a broker.
			logger.Warn("Event publishing disabled", "error", err)
		} else {
			publisher = nc
		}
	}

	var tokens *auth.Tokens
	if cfg.TokenSecret != "" {
		if tokens, err = auth.NewTokens(cfg.TokenSecret, cfg.TokenTTL); err != nil {
			logger.Error("Failed to configure session tokens", "error", err)
			os.Exit(1)
		}
	}

	srv := server.New(database, &server.ServerConfig{
		Addr:         cfg.Addr,
		MaxOnline:    cfg.MaxOnline,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		SendBuffer:   cfg.SendBuffer,
		HistoryLimit: cfg.HistoryLimit,
		StaticDir:    cfg.StaticDir,
		PublicIP:     cfg.PublicIP,
	}, server.Options{
		Logger:  logger,
		Tokens:  tokens,
		Events:  publisher,
		Metrics: metrics,
	})

	stop := func(reason string, completion time.Time) {
		srv.Shutdown(reason, completion)
		publisher.Close()
		database.Close()
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("Telemetry shutdown", "error", err)
		}
		os.Remove(cfg.ControlSocket)
		os.Exit(0)
	}

	// Control socket for management commands
	go startControlSocket(cfg.ControlSocket, srv, logger, stop)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		stop("maintenance", time.Time{})
	}()

	if err := srv.Start(); err != nil {
		logger.Error("Server stopped", "error", err)
		os.Exit(1)
	}
	// Start returns nil once Shutdown has begun; stop exits the process.
	select {}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func startControlSocket(path string, srv *server.Server, logger *slog.Logger, stop func(string, time.Time)) {
	if path == "" {
		return
	}
	os.Remove(path)

	listener, err := net.Listen("unix", path)
	if err != nil {
		logger.Warn("Failed to create control socket", "path", path, "error", err)
		return
	}
	defer listener.Close()
	defer os.Remove(path)

	logger.Info("Control socket listening", "path", path)

	for {
		conn, err := listener.Accept()
		if err != nil {
			continue
		}
		go handleControlCommand(conn, srv, logger, stop)
	}
}

// handleControlCommand serves one line: "stats" or "shutdown|reason|RFC3339 completion".
func handleControlCommand(conn net.Conn, srv *server.Server, logger *slog.Logger, stop func(string, time.Time)) {
	defer conn.Close()

	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return
	}
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)

	switch parts[0] {
	case "stats":
		conn.Write([]byte("OK|" + srv.GetStats() + "\n"))

	case "shutdown":
		reason := "maintenance"
		var completion time.Time
		if len(parts) >= 2 && parts[1] != "" {
			reason = parts[1]
		}
		if len(parts) >= 3 && parts[2] != "" {
			if completion, err = time.Parse(time.RFC3339, parts[2]); err != nil {
				conn.Write([]byte("ERROR|Invalid completion time\n"))
				return
			}
		}

		conn.Write([]byte("OK|Shutting down\n"))
		conn.Close()
		logger.Info("Shutdown requested", "reason", reason, "completion", completion)
		stop(reason, completion)

	default:
		conn.Write([]byte("ERROR|Unknown command\n"))
	}
}
