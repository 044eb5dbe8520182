// Command agentrtd runs the event-sourced agent runtime: an HTTP front
// door (internal/httpapi) over a streammanager.Manager that spawns the LLM
// Loop, Codemode, and Clock processors on every path's first activity.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "agentrtd",
	Short:   "Event-sourced agent runtime server",
	Long:    "agentrtd serves an append-only, per-path event log and the processors (LLM Loop, Codemode, Clock) that react to it.",
	RunE:    runServe,
	Version: "dev",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to agentrt.yaml (default: search ./agentrt.yaml, /etc/agentrt/agentrt.yaml)")
	rootCmd.Flags().Int("port", 0, "HTTP listen port (overrides config/env; 0 means use config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
