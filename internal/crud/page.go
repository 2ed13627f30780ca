package crud

import (
	"errors"
	"math"
	"strconv"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*size within int64 on every platform.
	MaxPage = math.MaxInt32
)

type Page struct {
	Number int
	Size   int
}

// ParsePage reads the page and page_size query values. Unparseable values
// fall back to the defaults; out-of-range values are clamped.
func ParsePage(page, size string) Page {
	p := Page{Number: 1, Size: DefaultPageSize}
	if n, err := strconv.Atoi(page); err == nil {
		p.Number = min(MaxPage, max(1, n))
	} else if errors.Is(err, strconv.ErrRange) && n > 0 {
		p.Number = MaxPage
	}
	if n, err := strconv.Atoi(size); err == nil {
		p.Size = min(MaxPageSize, max(1, n))
	} else if errors.Is(err, strconv.ErrRange) && n > 0 {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Skip() int64 {
	number := min(MaxPage, max(1, p.Number))
	size := min(MaxPageSize, max(1, p.Size))
	return int64(number-1) * int64(size)
}
