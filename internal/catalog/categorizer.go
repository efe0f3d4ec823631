package catalog

import (
	"strings"

	"github.com/zmcp/odata-registry/internal/models"
)

// categoryKeywords maps each tag to the substrings that trigger it. Matching
// is done against the lowercased id, title, and description of a service.
var categoryKeywords = map[Category][]string{
	CategoryBusinessPartner: {"business partner", "business_partner", "businesspartner", "bupa", "customer", "supplier", "vendor", "contact"},
	CategorySales:           {"sales", "order", "quotation", "contract", "billing"},
	CategoryFinance:         {"finance", "financial", "accounting", "ledger", "payment", "invoice", "bank", "tax"},
	CategoryProcurement:     {"procurement", "purchase", "purchasing", "sourcing", "requisition"},
	CategoryHR:              {"employee", "workforce", "personnel", "human resource", "timesheet", "payroll"},
	CategoryLogistics:       {"logistics", "delivery", "shipment", "warehouse", "inventory", "material", "stock", "transport"},
}

// Categorize assigns topic tags to a service using keyword heuristics. It is
// pure and deterministic: the same service always yields the same tags, and
// the result is never empty. A service matching no keyword gets exactly
// {CategoryAll}.
func Categorize(svc *models.Service) []Category {
	haystack := strings.ToLower(svc.ID + " " + svc.Title + " " + svc.Description)

	var tags []Category
	for _, cat := range Categories {
		if cat == CategoryAll {
			continue
		}
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(haystack, kw) {
				tags = append(tags, cat)
				break
			}
		}
	}

	if len(tags) == 0 {
		return []Category{CategoryAll}
	}
	return tags
}
