// Command devici-mcp serves Devici threat modeling tools over the Model
// Context Protocol.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wilhg/devici-mcp/pkg/config"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "devici-mcp",
	Short: "MCP server for the Devici threat modeling platform",
	Long: `devici-mcp exposes the Devici API and Open Threat Model (OTM) documents
as MCP tools.

Configuration is read from devici-mcp.yaml, a .env file and DEVICI_*
environment variables, e.g. DEVICI_CLIENT_ID and DEVICI_CLIENT_SECRET.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(func() { config.InitViper(cfgFile) })
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./devici-mcp.yaml, ~/.devici-mcp/devici-mcp.yaml)")
	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
