// Command chat-client runs one interactive chat session against a
// chat-server, per spec.md §6.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/Ramish25/reliable-chat/pkg/chat"
	"github.com/Ramish25/reliable-chat/pkg/logging"
	"github.com/Ramish25/reliable-chat/pkg/transport"
	"go.uber.org/zap"
)

func main() {
	var (
		username   = flag.String("u", "", "username (required)")
		port       = flag.Int("p", 15000, "server port")
		address    = flag.String("a", "127.0.0.1", "server address")
		window     = flag.Int("w", 3, "sliding window size")
		logLevel   = flag.String("log-level", "warn", "log level: debug, info, warn, error")
		logFormat  = flag.String("log-format", "console", "log format: console, json")
		configPath = flag.String("config", "", "optional YAML config file overriding the transport settings (chunk size, timeout, retransmissions, window size)")
	)
	flag.Parse()

	if *username == "" {
		fmt.Fprintln(os.Stderr, "Missing Username.")
		flag.Usage()
		os.Exit(1)
	}

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

	localAddr := fmt.Sprintf(":%d", 10000+rand.Intn(30000))
	sock, err := transport.NewSocket(cfg, localAddr)
	if err != nil {
		logging.Fatal("failed to bind reliable socket", zap.Error(err))
	}
	defer sock.Close()

	serverAddr := fmt.Sprintf("%s:%d", *address, *port)
	client := chat.NewClient(sock, serverAddr, *username)

	go client.ReceiveLoop()
	client.Join()
	client.CommandLoop(os.Stdin)
}
