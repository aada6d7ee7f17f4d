package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/ordersync/internal/adapters/driving/mcp"
)

func TestMCPServeCmd_Flags(t *testing.T) {
	flag := mcpServeCmd.Flags().Lookup("port")
	if assert.NotNil(t, flag) {
		assert.Equal(t, "0", flag.DefValue)
		assert.Equal(t, "p", flag.Shorthand)
	}
}

func TestMCPServeCmd_RequiresServices(t *testing.T) {
	withServices(t, Services{Sync: &mockSyncService{}})

	_, err := execute(t, "mcp", "serve")

	assert.ErrorIs(t, err, mcp.ErrMissingOrderService)
}
