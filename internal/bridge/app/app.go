// Package app assembles the call bridge from its parts and manages
// their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sebas/callbridge/internal/bridge/api"
	"github.com/sebas/callbridge/internal/bridge/config"
	"github.com/sebas/callbridge/internal/bridge/orchestrator"
	"github.com/sebas/callbridge/internal/bridge/provider"
	"github.com/sebas/callbridge/internal/bridge/rtc"
	"github.com/sebas/callbridge/internal/bridge/signaling"
)

// CallBridge is the assembled service.
type CallBridge struct {
	config    *config.Config
	engine    rtc.Engine
	client    *provider.Client
	orch      *orchestrator.Orchestrator
	hub       *signaling.Hub
	receiver  *provider.Receiver
	apiServer *api.Server
}

// NewServer wires the bridge together from configuration.
func NewServer(cfg *config.Config) (*CallBridge, error) {
	engine, err := rtc.NewPionEngine(rtc.EngineConfig{
		ICEServers:    cfg.ICEServers,
		ICEUsername:   cfg.ICEUsername,
		ICECredential: cfg.ICECredential,
		UDPPortMin:    cfg.UDPPortMin,
		UDPPortMax:    cfg.UDPPortMax,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer engine: %w", err)
	}

	client := provider.NewClient(provider.ClientConfig{
		BaseURL:       cfg.GraphAPIBase,
		Version:       cfg.GraphAPIVersion,
		PhoneNumberID: cfg.PhoneNumberID,
		AccessToken:   cfg.AccessToken,
	})

	orch := orchestrator.New(engine, client, orchestrator.Config{
		TrackWaitTimeout: cfg.TrackWaitTimeout,
		AcceptDelay:      cfg.AcceptDelay,
	})

	// The hub dispatches browser events into the orchestrator; the
	// orchestrator broadcasts lifecycle events back through the hub.
	hub := signaling.NewHub(orch, signaling.DefaultHubConfig())
	orch.SetNotifier(hub)

	receiver := provider.NewReceiver(cfg.VerifyToken, cfg.AppSecret, orch)

	apiServer := api.NewServer(cfg.HTTPAddr, orch, receiver, hub)

	return &CallBridge{
		config:    cfg,
		engine:    engine,
		client:    client,
		orch:      orch,
		hub:       hub,
		receiver:  receiver,
		apiServer: apiServer,
	}, nil
}

// Start brings the HTTP surface up and blocks until ctx is cancelled.
func (b *CallBridge) Start(ctx context.Context) error {
	if err := b.apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	slog.Info("[App] Call bridge running",
		"addr", b.config.HTTPAddr,
		"phone_number_id", b.config.PhoneNumberID,
	)

	<-ctx.Done()
	return b.Close()
}

// Close shuts the bridge down.
func (b *CallBridge) Close() error {
	slog.Info("[App] Shutting down")
	if err := b.apiServer.Stop(); err != nil {
		slog.Error("[App] Failed to stop HTTP server", "error", err)
	}
	return nil
}
