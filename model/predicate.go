package model

// QueryPredicate narrows the set of records a sync request returns.
type QueryPredicate interface {
	// Filter renders the predicate as a GraphQL filter input. A nil map
	// means the request carries no filter at all.
	Filter() map[string]any
}

type matchAll struct{}

func (matchAll) Filter() map[string]any { return nil }

// MatchAll returns the predicate that accepts every record.
func MatchAll() QueryPredicate {
	return matchAll{}
}
