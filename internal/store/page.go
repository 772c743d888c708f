package store

// Page limits.
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page selects a 1-based page of results.
type Page struct {
	Number int
	Limit  int
}

// NewPage clamps a requested page number and size to sane bounds.
func NewPage(number, limit int) Page {
	if number < 1 {
		number = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Page{Number: number, Limit: limit}
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	if p.Number < 1 {
		return 0
	}
	return (p.Number - 1) * p.Limit
}

// Pages is the number of pages needed to hold total rows.
func (p Page) Pages(total int) int {
	if p.Limit < 1 {
		return 0
	}
	return (total + p.Limit - 1) / p.Limit
}
