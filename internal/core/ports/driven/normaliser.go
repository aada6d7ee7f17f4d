package driven

import (
	"time"

	"github.com/custodia-labs/ordersync/internal/core/domain"
)

// OrderNormaliser maps remote order records onto the local schema.
// Implementations are pure: no I/O, no clock reads.
type OrderNormaliser interface {
	// Normalise transforms one remote record. now is used as the order
	// time when the record carries none.
	// Returns a *domain.ValidationError for records that cannot be stored.
	Normalise(remote *domain.RemoteOrder, now time.Time) (domain.Order, error)
}
