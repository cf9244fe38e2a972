package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/whisperchat/internal/logger"
	"github.com/Tyrowin/whisperchat/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logger.SetupDefault(os.Stdout)
	slog.Info("starting WhisperChat server")

	// Environment is the baseline; an optional JSON config file overrides
	// it and is watched for changes.
	config := server.NewConfigFromEnv()
	configFile := os.Getenv("CHAT_CONFIG")
	if configFile != "" {
		fileConfig, err := server.LoadConfigFile(configFile)
		if err != nil {
			slog.Error("failed to load config file", "path", configFile, "error", err)
			os.Exit(1)
		}
		config = fileConfig
	}
	server.SetConfig(config)

	registry := prometheus.NewRegistry()
	metrics := server.NewMetrics(registry)

	store := server.NewCredentialStore(config.CredentialFile)
	hub := server.NewHub(metrics)

	chatServer := server.NewChatServer(hub, store)
	mux := server.SetupRoutes(hub, store, registry)
	httpServer := server.CreateServer(config.HTTPAddr, mux)

	errs := make(chan error, 2)
	go func() {
		if err := chatServer.ListenAndServe(); err != nil {
			errs <- err
		}
	}()
	go func() {
		if err := server.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	if configFile != "" {
		watcher, err := watchConfig(configFile)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", configFile, "error", err)
		} else {
			defer func() {
				if cerr := watcher.Close(); cerr != nil {
					slog.Warn("error closing config watcher", "error", cerr)
				}
			}()
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		slog.Error("server failed", "error", err)
	}

	if err := chatServer.Shutdown(shutdownTimeout); err != nil {
		slog.Warn("chat server shutdown incomplete", "error", err)
	}
	if err := hub.Shutdown(shutdownTimeout); err != nil {
		slog.Warn("hub shutdown incomplete", "error", err)
	}
	if err := server.ShutdownServer(httpServer, shutdownTimeout); err != nil {
		slog.Warn("http server shutdown incomplete", "error", err)
	}

	slog.Info("WhisperChat server stopped")
}
