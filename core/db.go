package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// ParseOrdering parses a "field" | "-field" expression; a leading "-" means descending.
func ParseOrdering(expr string) (DBOrdering, bool) {
	expr = CleanString(expr)
	descending := len(expr) > 0 && expr[0] == '-'
	if descending {
		expr = expr[1:] // drop "-"
	}
	if expr == "" {
		return DBOrdering{}, false
	}
	return DBOrdering{Field: expr, Ascending: !descending}, true
}
