package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var (
	ErrChainTooLong = errors.New("reschedule chain exceeds hop limit")
	ErrChainCycle   = errors.New("reschedule chain contains a cycle")
)

// Links reads the rescheduled-from pointer of a reservation.
type Links interface {
	RescheduledFrom(ctx context.Context, tx *sqlx.Tx, reservationID int64) (*int64, error)
}

// ChainDepth follows rescheduled-from pointers from reservationID back to
// the first reservation of its chain and returns the number of hops taken.
// More than maxHops hops, or a revisited id, is an error.
func ChainDepth(ctx context.Context, tx *sqlx.Tx, links Links, reservationID int64, maxHops int) (int, error) {
	seen := map[int64]struct{}{reservationID: {}}
	current := reservationID

	for hops := 0; ; hops++ {
		prev, err := links.RescheduledFrom(ctx, tx, current)
		if err != nil {
			return hops, err
		}
		if prev == nil {
			return hops, nil
		}
		if hops >= maxHops {
			return hops, fmt.Errorf("%w: more than %d hops from reservation %d", ErrChainTooLong, maxHops, reservationID)
		}
		if _, dup := seen[*prev]; dup {
			return hops, fmt.Errorf("%w: reservation %d revisited from %d", ErrChainCycle, *prev, reservationID)
		}
		seen[*prev] = struct{}{}
		current = *prev
	}
}
