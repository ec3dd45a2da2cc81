// Command gatewayd runs the MCP gateway: it supervises the configured
// backend processes, aggregates their catalogs, and serves the combined
// MCP surface over HTTP/SSE.
package main

import (
	"os"

	"github.com/mcpgateway/gateway/cmd/gatewayd/app"
	"github.com/mcpgateway/gateway/pkg/logger"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		logger.Errorf("gatewayd: %v", err)
		os.Exit(1)
	}
}
