package util

// ListFilter carries the query/order/pagination options shared by list
// endpoints and repositories.
type ListFilter struct {
	Filters []QueryFilter
	Order   []OrderClause
	Page    int
	PerPage int
}
