package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiki-dev/hibikid/internal/client"
	"github.com/hibiki-dev/hibikid/internal/config"
	"github.com/hibiki-dev/hibikid/internal/daemon"
	"github.com/hibiki-dev/hibikid/internal/rpc"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		socketPath  string
		outputDir   string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&socketPath, "socket", "", "Unix socket path override")
	flag.StringVar(&outputDir, "output-dir", "", "Directory for synthesized audio files")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	// stdout carries JSON-RPC, so everything else goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if socketPath != "" {
		cfg.Daemon.SocketPath = socketPath
	}
	if outputDir != "" {
		cfg.RPC.OutputDir = outputDir
	}

	socket := daemon.ResolveSocketPath(cfg.Daemon.SocketPath)
	dial := func() (rpc.DaemonClient, error) {
		return client.Dial(socket, client.DefaultConnectTimeout, client.DefaultResponseTimeout)
	}

	tools := rpc.NewTools(dial, cfg, logger)
	srv := rpc.NewServer(os.Stdin, os.Stdout, tools, version, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("rpc server exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
