package catalog

import (
	"fmt"
	"strings"

	"github.com/zmcp/odata-registry/internal/models"
)

// Category is one topic tag of the fixed enumerated set. CategoryAll is
// both the catch-all tag for untagged services and the "no restriction"
// search category.
type Category string

const (
	CategoryBusinessPartner Category = "business-partner"
	CategorySales           Category = "sales"
	CategoryFinance         Category = "finance"
	CategoryProcurement     Category = "procurement"
	CategoryHR              Category = "hr"
	CategoryLogistics       Category = "logistics"
	CategoryAll             Category = "all"
)

// Categories lists every valid category in a stable presentation order.
var Categories = []Category{
	CategoryBusinessPartner,
	CategorySales,
	CategoryFinance,
	CategoryProcurement,
	CategoryHR,
	CategoryLogistics,
	CategoryAll,
}

// ParseCategory validates a caller-supplied category string. An empty
// string means the caller did not restrict the search and maps to
// CategoryAll; any other unrecognized value is a validation error rather
// than a silent default.
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryAll, nil
	}
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", &models.ValidationError{
		Message: fmt.Sprintf("unknown category %q. Valid categories: %s", s, joinCategories(Categories)),
	}
}

func joinCategories(cats []Category) string {
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
