package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

func TestSearchCustomers(t *testing.T) {
	f := readyFixture(t)
	_, ok := f.cache.PutCustomer(domain.Customer{ID: "local-1", Phone: "+923002222222", FullName: "Ali Raza", Address: "DHA Phase 5"})
	require.True(t, ok)
	_, ok = f.cache.PutCustomer(domain.Customer{ID: "local-2", Phone: "+923003333333", FullName: "Aliya", Address: "Gulberg II"})
	require.True(t, ok)

	tests := []struct {
		name  string
		term  string
		limit int
		want  []string
	}{
		{"by name case-insensitive", "ALI", 0, []string{"local-1", "local-2"}},
		{"by phone fragment", "3002222", 0, []string{"local-1"}},
		{"by address", "gulberg", 0, []string{"local-2", "c-1"}},
		{"limit", "ali", 1, []string{"local-1"}},
		{"blank term", "   ", 0, nil},
		{"no match", "zzz", 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.cache.SearchCustomers(tt.term, tt.limit)
			ids := make([]string, 0, len(got))
			for _, cu := range got {
				ids = append(ids, cu.ID)
			}
			if tt.want == nil {
				assert.Empty(t, ids)
				return
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}
