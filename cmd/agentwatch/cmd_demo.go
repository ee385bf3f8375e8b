package main

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tejasdessai01/agentwatch-app/pkg/reporter"
)

func init() {
	rootCmd.AddCommand(demoCmd)
	demoCmd.Flags().String("url", "", "relay URL (default DASHBOARD_URL)")
	demoCmd.Flags().String("api-key", "", "API key (default API_KEY)")
	demoCmd.Flags().String("id", "", "agent id (generated when empty)")
	demoCmd.Flags().String("name", "Production Agent v1", "display name")
	demoCmd.Flags().Duration("interval", 3*time.Second, "delay between simulated tasks")
}

// demoTasks is the simulated work loop. Entries containing "Error" flip the
// agent into the error state for one cycle.
var demoTasks = []string{
	"Fetching market data...",
	"Analyzing trends...",
	"Executing trade simulation...",
	"Writing report to 'strategy.md'...",
	"Sleeping for 5s...",
	"Waking up...",
	"Checking email...",
	"Error: API Timeout. Retrying...",
	"Success! Cycle complete.",
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run a simulated agent that reports to the relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := setupLogging(cfg)

		url, _ := cmd.Flags().GetString("url")
		if url == "" {
			url = cfg.DashboardURL
		}
		apiKey, _ := cmd.Flags().GetString("api-key")
		if apiKey == "" {
			apiKey = cfg.APIKey
		}
		id, _ := cmd.Flags().GetString("id")
		name, _ := cmd.Flags().GetString("name")
		interval, _ := cmd.Flags().GetDuration("interval")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		agent, err := reporter.New(reporter.Config{
			ServerURL:     url,
			APIKey:        apiKey,
			AgentID:       id,
			Name:          name,
			InitialStatus: reporter.StatusIdle,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		if err := agent.Start(ctx); err != nil {
			return err
		}
		defer agent.Close()
		logger.Info("demo agent running", "agent_id", agent.ID(), "url", url)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		started := time.Now()

		for counter := 0; ; counter++ {
			select {
			case <-ctx.Done():
				_ = agent.End(reporter.StatusIdle)
				return nil
			case <-agent.Done():
				return errors.New("reporter stopped")
			case <-ticker.C:
			}

			task := demoTasks[counter%len(demoTasks)]
			status := reporter.StatusWorking
			if strings.Contains(task, "Error") {
				status = reporter.StatusError
			}
			_ = agent.Log(task, status)

			tokens := 200 + rand.Intn(800)
			_ = agent.Tokens(tokens, float64(tokens)*0.000002)
			_ = agent.Metric("uptime", int(time.Since(started).Seconds()))
			_ = agent.Progress(float64(counter%len(demoTasks)+1) * 100 / float64(len(demoTasks)))
		}
	},
}
