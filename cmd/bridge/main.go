package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebas/callbridge/internal/banner"
	"github.com/sebas/callbridge/internal/bridge/app"
	"github.com/sebas/callbridge/internal/bridge/config"
	"github.com/sebas/callbridge/internal/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	logger.InitLogger(os.Stdout)
	logger.SetLevel(cfg.LogLevel)

	banner.Print("Call Bridge", []banner.ConfigLine{
		{Label: "HTTP", Value: cfg.HTTPAddr},
		{Label: "Graph API", Value: cfg.GraphAPIBase + "/" + cfg.GraphAPIVersion},
		{Label: "Phone Number ID", Value: cfg.PhoneNumberID},
		{Label: "Log Level", Value: cfg.LogLevel},
	})

	// Create server
	bridge, err := app.NewServer(cfg)
	if err != nil {
		slog.Error("Failed to create call bridge", "error", err)
		os.Exit(1)
	}
	defer bridge.Close()

	run(bridge, cfg)
}

func run(bridge *app.CallBridge, cfg *config.Config) {
	slog.Info("Starting Call Bridge",
		"addr", cfg.HTTPAddr,
		"graph_api", cfg.GraphAPIBase,
	)
	logNetworkInterfaces()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start server
	go func() {
		if err := bridge.Start(ctx); err != nil {
			slog.Error("Server error", "error", err)
		}
	}()

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	slog.Info("Received signal, shutting down", "signal", sig)
	cancel()

	time.Sleep(1 * time.Second)
}

func logNetworkInterfaces() {
	interfaces, err := net.Interfaces()
	if err != nil {
		return
	}

	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ip, _, err := net.ParseCIDR(addr.String())
			if err != nil {
				continue
			}
			slog.Debug("Network interface", "interface", iface.Name, "ip", ip.String())
		}
	}
}
