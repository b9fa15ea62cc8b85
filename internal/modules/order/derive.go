// README: Order-level status derived from the aggregate of suborder statuses.
package order

// Derive recomputes the order status from its suborders. COMPLETED and
// CANCELLED are admin decisions and are never overwritten.
func Derive(o *Order) Status {
	if o.Status == StatusCompleted || o.Status == StatusCancelled {
		return o.Status
	}
	if len(o.Suborders) == 0 {
		return o.Status
	}

	var cancelled, confirmed, settled, moving, started int
	for _, s := range o.Suborders {
		switch s.Status {
		case SubCancelled:
			cancelled++
		case SubConfirmed:
			confirmed++
		case SubAssigned, SubPickedUp, SubInTransit:
			moving++
		case SubProcessing, SubReadyForPickup:
			started++
		}
		if s.Status.Settled() {
			settled++
		}
	}

	n := len(o.Suborders)
	switch {
	case cancelled == n:
		return StatusCancelled
	case settled == n && confirmed == n-cancelled:
		return StatusConfirmed
	case settled == n:
		return StatusDelivered
	case moving > 0 || settled > cancelled:
		return StatusShipped
	case started > 0:
		return StatusProcessing
	}
	return StatusPending
}

// ReadyForCompletion is true when every suborder is DELIVERED, CONFIRMED or
// CANCELLED and at least one was not cancelled.
func ReadyForCompletion(o *Order) bool {
	if len(o.Suborders) == 0 {
		return false
	}
	live := 0
	for _, s := range o.Suborders {
		if !s.Status.Settled() {
			return false
		}
		if s.Status != SubCancelled {
			live++
		}
	}
	return live > 0
}
