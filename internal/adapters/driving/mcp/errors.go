// Package mcp exposes order sync over the Model Context Protocol so an
// assistant can trigger syncs and read synced orders.
package mcp

import "errors"

var (
	ErrMissingSyncService  = errors.New("mcp: sync service is required")
	ErrMissingOrderService = errors.New("mcp: order service is required")
)
