package orders

type Status string

const (
	StatusPending  Status = "PENDING_ADMIN_APPROVAL"
	StatusPaid     Status = "PAID"
	StatusRejected Status = "REJECTED"
	StatusRemoved  Status = "REMOVED_BY_ADMIN"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:  {StatusPaid: true, StatusRejected: true, StatusRemoved: true},
	StatusPaid:     {StatusRemoved: true},
	StatusRejected: {},
	StatusRemoved:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// sourcesOf lists every status that may move to `to`.
func sourcesOf(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusPaid, StatusRejected, StatusRemoved} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// StockReleased reports whether an order in this status no longer holds stock.
func (s Status) StockReleased() bool {
	return s == StatusRejected || s == StatusRemoved
}
