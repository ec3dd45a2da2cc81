package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mcpgateway/gateway/pkg/config"
	"github.com/mcpgateway/gateway/pkg/logger"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "validate the gateway configuration file",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := viper.GetString("config")
			if path == "" {
				return fmt.Errorf("no configuration file specified, use --config")
			}

			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			logger.Infof("configuration is valid")
			logger.Infof("  host: %s:%d", cfg.Host, cfg.Port)
			logger.Infof("  backends: %d", len(cfg.Backends))
			logger.Infof("  static tokens: %d", len(cfg.Auth.StaticTokens))
			logger.Infof("  oauth clients: %d", len(cfg.Auth.OAuthClients))
			return nil
		},
	}
}
