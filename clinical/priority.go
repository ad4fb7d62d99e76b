package clinical

import "sort"

// DefaultPriority ranks unranked and user-authored rows last.
const DefaultPriority = 999

// SortByPriority sorts rows ascending by priority in place. Ties keep their
// relative order, so calling it after every mutation never reshuffles rows.
func SortByPriority(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Priority < rows[j].Priority
	})
}

// priorityOr returns p when set, DefaultPriority otherwise.
func priorityOr(p *int) int {
	if p == nil {
		return DefaultPriority
	}
	return *p
}
