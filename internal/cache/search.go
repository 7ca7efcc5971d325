package cache

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// SearchCustomers returns customers whose phone, name or address contains
// term, case-insensitively. Purely local. An empty term matches nothing.
func (c *Cache) SearchCustomers(term string, limit int) []domain.Customer {
	fold := cases.Fold()
	needle := fold.String(strings.TrimSpace(term))
	if needle == "" {
		return []domain.Customer{}
	}

	out := []domain.Customer{}
	for _, cu := range c.GetAllCustomers() {
		if strings.Contains(fold.String(cu.Phone), needle) ||
			strings.Contains(fold.String(cu.FullName), needle) ||
			strings.Contains(fold.String(cu.Address), needle) {
			out = append(out, cu)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}
