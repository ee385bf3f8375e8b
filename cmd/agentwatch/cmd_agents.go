package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tejasdessai01/agentwatch-app/internal/transport/rpc"
)

func init() {
	rootCmd.AddCommand(agentsCmd)
	agentsCmd.Flags().String("rpc-addr", "", "relay RPC address (default localhost:RPC_PORT)")
	agentsCmd.Flags().Bool("json", false, "print raw JSON")
}

var agentsCmd = &cobra.Command{
	Use:   "agents [agent-id]",
	Short: "List agents through the operator RPC port",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		setupLogging(cfg)

		addr, _ := cmd.Flags().GetString("rpc-addr")
		if addr == "" {
			if cfg.RPCPort == 0 {
				return fmt.Errorf("RPC_PORT is not set; pass --rpc-addr")
			}
			addr = fmt.Sprintf("localhost:%d", cfg.RPCPort)
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		client := rpc.NewClient(addr, cfg.APIKey)
		ctx := context.Background()

		if len(args) == 1 {
			rec, err := client.GetAgent(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		agents, err := client.ListAgents(ctx)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(agents)
		}

		ids := make([]string, 0, len(agents))
		for id := range agents {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCOST\tTOKENS\tLAST SEEN")
		for _, id := range ids {
			rec := agents[id]
			fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%v\t%s\n",
				rec.ID, rec.Name, rec.Status, metricFloat(rec, "cost"), rec.Metrics["tokens"], clock(rec.LastHeartbeat))
		}
		return w.Flush()
	},
}
