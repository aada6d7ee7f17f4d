// Package crm implements the order source for the Keap CRM REST API.
//
// # Authentication
//
// Two methods are supported:
//
//   - Service account key: sent as a static bearer token.
//   - Client credentials: an OAuth2 client id and secret exchanged at the
//     token endpoint; tokens are cached and refreshed by golang.org/x/oauth2.
//
// # Pagination
//
// [Client.FetchPage] fetches a single offset/limit page, optionally filtered
// by a since date. [Client.FetchAll] and [Client.FetchSince] loop until a
// page comes back smaller than requested. Each page is sorted newest first
// on the client in case the server ignores the requested ordering.
//
// # Rate Limiting
//
// Requests pass through a token bucket before they are sent. A 429
// response pauses the limiter for the Retry-After period and the delay is
// reported on the returned [domain.RemoteAPIError].
//
// # Error Handling
//
//   - Network failures: [domain.TransportError] (retryable)
//   - Non-2xx responses: [domain.RemoteAPIError] with status and body
//   - Undecodable bodies: [domain.MalformedResponseError]
//
// The client never retries on its own; retry policy belongs to the caller.
package crm
