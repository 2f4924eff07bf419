package shared

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

// Page is a limit/offset window for listings.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// NewPage clamps limit and offset to sane values.
func NewPage(limit, offset int) Page {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset}
}
