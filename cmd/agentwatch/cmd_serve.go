package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejasdessai01/agentwatch-app/internal/hub"
	internalhttp "github.com/tejasdessai01/agentwatch-app/internal/http"
	"github.com/tejasdessai01/agentwatch-app/internal/policy"
	"github.com/tejasdessai01/agentwatch-app/internal/registry"
	"github.com/tejasdessai01/agentwatch-app/internal/relay"
	"github.com/tejasdessai01/agentwatch-app/internal/share"
	"github.com/tejasdessai01/agentwatch-app/internal/transport/rpc"
	"github.com/tejasdessai01/agentwatch-app/internal/ws"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the relay server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	logger.Info("starting agentwatch relay", "port", cfg.Port, "rpc_port", cfg.RPCPort, "share_dsn", cfg.ShareDSN)
	if cfg.UsesDefaultAPIKey() {
		logger.Warn("API_KEY is not set, using the insecure default key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Kill policy
	killPolicy, err := policy.NewEngineFromFile(ctx, cfg.KillPolicyFile)
	if err != nil {
		return fmt.Errorf("load kill policy: %w", err)
	}

	// Core state
	agents := registry.New()
	connectionHub := hub.NewHub(cfg.SendBuffer, logger)
	r := relay.New(agents, connectionHub, killPolicy, logger)

	// Share snapshots
	store, err := share.Open(cfg.ShareDSN, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	shares := share.NewService(store, agents, cfg.PublicURL(), cfg.ShareTTL, logger)
	sweeper, err := share.NewSweeper(shares, cfg.ShareSweepSchedule, logger)
	if err != nil {
		return err
	}
	sweeper.Start()
	defer sweeper.Stop()

	// Public HTTP + WebSocket server
	wsServer := ws.NewServer(cfg, connectionHub, r, logger)
	httpServer := internalhttp.NewServer(cfg.APIKey, connectionHub, agents, shares, wsServer.HandleWebSocket, logger)

	errCh := make(chan error, 2)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	logger.Info("http server started", "addr", fmt.Sprintf(":%d", cfg.Port))

	// Optional operator RPC server
	var rpcServer *rpc.Server
	if cfg.RPCPort > 0 {
		rpcServer, err = rpc.NewServer(r, cfg.APIKey, logger)
		if err != nil {
			return fmt.Errorf("create rpc server: %w", err)
		}
		if err := rpcServer.Listen(fmt.Sprintf(":%d", cfg.RPCPort)); err != nil {
			return fmt.Errorf("rpc listen: %w", err)
		}
		go func() {
			if err := rpcServer.Serve(); err != nil {
				errCh <- fmt.Errorf("rpc server: %w", err)
			}
		}()
		logger.Info("rpc server started", "addr", rpcServer.Addr().String())
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down relay")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		stop()
		shutdown(logger, httpServer, rpcServer, connectionHub)
		return err
	}

	shutdown(logger, httpServer, rpcServer, connectionHub)
	logger.Info("relay stopped")
	return nil
}

func shutdown(logger *slog.Logger, httpServer *internalhttp.Server, rpcServer *rpc.Server, h *hub.Hub) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server gracefully", "error", err)
	}
	if rpcServer != nil {
		if err := rpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown rpc server gracefully", "error", err)
		}
	}
	h.CloseAll()
}
