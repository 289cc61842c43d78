package main

import (
	"fmt"
	"os"

	"github.com/elonfeng/popradar/pkg/rank"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "popradar",
		Short: "Collect and rank workflow popularity across YouTube, Discourse and Google Trends",
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(collectCmd())
	root.AddCommand(queryCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(runCmd())

	return root
}

func collectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect",
		Short: "Run one aggregation pass and replace the snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context())
		},
	}
}

func queryCmd() *cobra.Command {
	var (
		jsonOutput bool
		opts       queryOpts
	)

	cmd := &cobra.Command{
		Use:   "query",
		Short: "Rank the current snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), opts, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().StringVar(&opts.platform, "platform", "", "only this platform (YouTube, Discourse, Google)")
	cmd.Flags().StringVar(&opts.region, "region", "", "only this region code")
	cmd.Flags().IntVar(&opts.limit, "limit", rank.DefaultLimit, "max records to show")
	return cmd
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP query server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func runCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start daemon with scheduler and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}
