package driving

import "context"

// Scheduler runs the recurring order syncs in the background.
type Scheduler interface {
	// Start runs the schedule until ctx is done or Stop is called.
	Start(ctx context.Context) error

	// Stop ends the loop and waits for in-flight syncs.
	Stop() error
}
