package pagination

const (
	DefaultLimit = 50
	MaxLimit     = 100
)

type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// New clamps limit to [1, MaxLimit] (DefaultLimit when unset) and offset to >= 0.
func New(limit, offset *int) Page {
	p := Page{Limit: DefaultLimit}
	if limit != nil {
		p.Limit = *limit
	}
	if p.Limit < 1 {
		p.Limit = 1
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if offset != nil && *offset > 0 {
		p.Offset = *offset
	}
	return p
}

// Window applies the page to a slice length, returning [start, end).
func (p Page) Window(n int) (int, int) {
	if p.Offset >= n {
		return n, n
	}
	end := p.Offset + p.Limit
	if end > n {
		end = n
	}
	return p.Offset, end
}
