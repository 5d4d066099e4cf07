package commands

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/janusipc/janus/internal/config"
	"github.com/janusipc/janus/pkg/client"
	"github.com/janusipc/janus/pkg/wire"
)

var statsSocket string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Fetch and print server_stats from a running Janus server",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&statsSocket, "socket", "", "Unix socket path of the server")
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClientConfig(cfgFile, statsSocket)
	if err != nil {
		return Runtime(err)
	}

	c, err := client.New(client.Config{
		ServerPath:       cfg.ServerPath,
		DefaultTimeout:   cfg.Timeout,
		MaxMessageSize:   cfg.MaxMessageSize,
		EnableValidation: cfg.EnableValidation,
	})
	if err != nil {
		return Runtime(errors.Wrap(err, "creating client"))
	}
	defer c.Close()

	resp, err := c.SendRequest("server_stats", nil, cfg.Timeout)
	if err != nil {
		return Runtime(errors.Wrap(err, "fetching stats"))
	}
	if !resp.Success {
		return Runtime(errors.Newf("server_stats failed: %s", resp.Error.Message))
	}

	fields, ok := resp.Result.AsObject()
	if !ok {
		return Runtime(errors.New("server_stats returned a non-object result"))
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)

	for _, key := range []string{"uptime", "total_connections", "total_requests", "active_clients"} {
		v, ok := fields[key]
		if !ok {
			continue
		}
		table.Append([]string{key, formatStatValue(v)})
	}
	table.Render()
	return nil
}

func formatStatValue(v wire.Value) string {
	if f, ok := v.AsFloat64(); ok {
		return fmt.Sprintf("%.3f", f)
	}
	return ""
}
