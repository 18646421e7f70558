package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "sla-engined",
	Short: "SLA tracking and notification engine",
	Long: `sla-engined tracks response and resolution SLAs for tickets against
business-hours schedules, pauses them on client-wait statuses, and
dispatches threshold notifications with at-most-once semantics.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

var configPathFlag string

func init() {
	rootCmd.PersistentFlags().StringVar(&configPathFlag, "config", "./config", "Directory containing default.yaml / config.yaml")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sla-engined %s\n", rootCmd.Version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
