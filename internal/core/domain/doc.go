// Package domain defines the core business entities for ordersync.
//
// The main types:
//
//   - Order: A CRM order as stored locally, with its line items
//   - RemoteOrder: An order exactly as the CRM returned it
//   - SyncCursor: How far a sync stream has progressed
//   - SyncResult: The outcome of one sync run
//   - ErrorKind: The classification every retry decision switches on
//
// Every other package imports domain; domain imports only the standard
// library.
package domain
