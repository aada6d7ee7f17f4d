// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Interfaces
//
//   - OrderSource: Fetches order pages from the CRM
//   - OrderNormaliser: Maps remote records onto the local schema
//   - OrderStore: Opens bookmark-consistent sessions on the order database
//   - Session: Reads and chunked upserts within one consistency session
//   - CursorStore: Sync cursor persistence (SQLite, Redis or memory)
//   - SchedulerStore: Scheduled task state and run history
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
