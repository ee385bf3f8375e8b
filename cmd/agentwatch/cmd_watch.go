package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tejasdessai01/agentwatch-app/internal/config"
	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
	"github.com/tejasdessai01/agentwatch-app/internal/viewer"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	addViewerFlags(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live agent activity to the terminal",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func addViewerFlags(cmd *cobra.Command) {
	cmd.Flags().String("url", "", "relay WebSocket URL (default DASHBOARD_URL)")
	cmd.Flags().String("api-key", "", "API key (default API_KEY)")
}

// dialViewer connects using flag values, falling back to config.
func dialViewer(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*viewer.Client, error) {
	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = cfg.DashboardURL
	}
	apiKey, _ := cmd.Flags().GetString("api-key")
	if apiKey == "" {
		apiKey = cfg.APIKey
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return viewer.Dial(dialCtx, viewer.Config{ServerURL: url, APIKey: apiKey})
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := dialViewer(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	cyan := color.New(color.FgCyan, color.Bold)
	cyan.Println("Connected. Watching agents (Ctrl+C to quit)")
	printAgents(client.Agents())

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case msg, ok := <-client.Events():
			if !ok {
				color.Red("Connection closed by relay\n")
				return nil
			}
			printEvent(msg)
		}
	}
}

func printAgents(agents map[string]domain.AgentRecord) {
	if len(agents) == 0 {
		color.New(color.Faint).Println("No agents connected yet.")
		return
	}
	ids := make([]string, 0, len(agents))
	for id := range agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		printRecord(agents[id])
	}
}

func printEvent(msg protocol.Outbound) {
	switch m := msg.(type) {
	case *protocol.RecordUpdatedMessage:
		printRecord(m.Agent)
	case *protocol.KillSignalMessage:
		color.New(color.FgRed, color.Bold).Printf("%s KILL SIGNAL -> %s\n", clock(m.Ts), m.TargetID)
	}
}

func printRecord(rec domain.AgentRecord) {
	statusColor(rec.Status).Printf("%-8s", rec.Status)
	fmt.Printf(" %s %-20s cost=$%.4f tokens=%v", clock(rec.LastHeartbeat), rec.Name, metricFloat(rec, domain.MetricCost), rec.Metrics[domain.MetricTokens])
	if n := len(rec.Logs); n > 0 {
		fmt.Printf("  %s", rec.Logs[n-1].Message)
	}
	fmt.Println()
}

func statusColor(status domain.AgentStatus) *color.Color {
	switch status {
	case domain.AgentStatusWorking:
		return color.New(color.FgGreen)
	case domain.AgentStatusError:
		return color.New(color.FgYellow)
	case domain.AgentStatusKilled:
		return color.New(color.FgRed)
	case domain.AgentStatusSuccess:
		return color.New(color.FgBlue)
	default:
		return color.New(color.Faint)
	}
}

func metricFloat(rec domain.AgentRecord, key string) float64 {
	f, _ := rec.Metrics[key].(float64)
	return f
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05")
}
