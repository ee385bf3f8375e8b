package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
)

func init() {
	rootCmd.AddCommand(killCmd)
	addViewerFlags(killCmd)
}

var killCmd = &cobra.Command{
	Use:   "kill <agent-id>",
	Short: "Broadcast a kill signal for an agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		ctx := context.Background()
		client, err := dialViewer(ctx, cmd, cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		target := args[0]
		if err := client.Kill(target); err != nil {
			return err
		}

		// Kill is fire-and-forget; wait briefly for the broadcast to confirm
		// the relay accepted it.
		timeout := time.After(5 * time.Second)
		for {
			select {
			case msg, ok := <-client.Events():
				if !ok {
					return fmt.Errorf("connection closed before kill signal was seen")
				}
				if sig, isKill := msg.(*protocol.KillSignalMessage); isKill && sig.TargetID == target {
					color.Red("Kill signal sent to %s\n", target)
					return nil
				}
			case <-timeout:
				return fmt.Errorf("no kill signal observed for %s (blocked by policy?)", target)
			}
		}
	},
}
