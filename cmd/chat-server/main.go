// Command chat-server runs the reliable chat relay described in
// spec.md §6: it binds a reliable transport socket and forwards joins,
// messages, and files between connected clients.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ramish25/reliable-chat/pkg/chat"
	"github.com/Ramish25/reliable-chat/pkg/logging"
	"github.com/Ramish25/reliable-chat/pkg/transport"
	"go.uber.org/zap"
)

func main() {
	var (
		port       = flag.Int("p", 15000, "server port")
		address    = flag.String("a", "127.0.0.1", "server bind address")
		window     = flag.Int("w", 3, "sliding window size")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat  = flag.String("log-format", "console", "log format: console, json")
		configPath = flag.String("config", "", "optional YAML config file overriding the transport settings (chunk size, timeout, retransmissions, window size)")
	)
	flag.Parse()

	if err := logging.Init(&logging.Config{Level: *logLevel, Format: *logFormat}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	cfg := transport.DefaultConfig().WithWindowSize(*window)
	if *configPath != "" {
		loaded, err := transport.LoadConfig(cfg, *configPath)
		if err != nil {
			logging.Fatal("failed to load config file", zap.Error(err))
		}
		cfg = loaded
	}

	bindAddr := fmt.Sprintf("%s:%d", *address, *port)
	sock, err := transport.NewSocket(cfg, bindAddr)
	if err != nil {
		logging.Fatal("failed to bind reliable socket", zap.Error(err), zap.String("addr", bindAddr))
	}

	logging.Info("chat server listening", zap.String("addr", bindAddr), zap.Int("window", cfg.WindowSize))

	server := chat.NewServer(sock)
	go server.Run()

	waitForShutdown()

	logging.Info("shutting down chat server")
	if err := sock.Close(); err != nil {
		logging.Warn("error while closing socket", zap.Error(err))
	}
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	// Give in-flight sends a moment to finish their handshake/teardown
	// retries before the socket is torn down.
	time.Sleep(100 * time.Millisecond)
}
