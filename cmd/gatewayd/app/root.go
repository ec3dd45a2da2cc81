// Package app provides the entry point for the gatewayd command-line
// application, grounded on the teacher's cmd/vmcp/app command layout
// (cobra root with persistent --config/--debug flags, serve/version/
// validate subcommands).
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpgateway/gateway/pkg/logger"
)

// version is the gateway's own version string, replaced at build time via
// -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:               "gatewayd",
	DisableAutoGenTag: true,
	Short:             "MCP Gateway - aggregate stdio MCP backends behind one authenticated HTTP/SSE endpoint",
	Long: `gatewayd runs the MCP Gateway: it supervises a fixed set of stdio JSON-RPC
backend processes, merges their tools/resources/prompts into a single
catalog, and serves that catalog over an authenticated SSE/JSON-RPC HTTP
surface with OAuth2 and static bearer-token auth.`,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("gatewayd: error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		level := "info"
		if viper.GetBool("debug") {
			level = "debug"
		}
		logger.Initialize(level)
	},
}

// NewRootCmd constructs the gatewayd root command with its persistent
// flags and subcommands wired.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the gateway configuration file")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newValidateCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("gatewayd version: %s", version)
		},
	}
}
