package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/ordersync/internal/adapters/driving/mcp"
)

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Expose ordersync to MCP clients",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run a Model Context Protocol server offering the sync_orders,
sync_status and get_order tools plus the ordersync://metrics and
ordersync://orders/{id} resources.

The server speaks JSON-RPC on stdin/stdout unless --port is given, in
which case it serves streamable HTTP on that port.

  ordersync mcp serve
  ordersync mcp serve --port 8080`,
	Args: cobra.NoArgs,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "serve HTTP on this port instead of stdio")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	server, err := mcp.NewServer(mcp.Ports{Sync: syncService, Orders: orderService})
	if err != nil {
		return err
	}

	if mcpPort <= 0 {
		return server.Run(cmd.Context())
	}

	addr := fmt.Sprintf(":%d", mcpPort)
	cmd.PrintErrf("MCP server listening on http://localhost%s\n", addr)
	return server.ListenAndServe(cmd.Context(), addr)
}
