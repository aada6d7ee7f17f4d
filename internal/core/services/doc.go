// Package services holds the sync engine: the orchestrator that pulls
// pages from the CRM and hands them to the writer, the order query
// service, and the scheduler that triggers syncs on an interval.
//
// Services depend only on domain types and port interfaces, so every
// storage backend and the CRM client can be swapped in tests.
package services
