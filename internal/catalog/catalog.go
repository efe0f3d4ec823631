package catalog

import (
	"strings"

	"github.com/zmcp/odata-registry/internal/models"
)

// Catalog is the immutable registry of harvested services. It is built once
// at startup; category tags are computed at construction and cached for the
// process lifetime. All lookups preserve harvest encounter order.
type Catalog struct {
	services   []*models.Service
	categories map[string][]Category // service id -> tags
}

// New builds a catalog from harvested services and categorizes each one.
func New(services []*models.Service) *Catalog {
	c := &Catalog{
		services:   services,
		categories: make(map[string][]Category, len(services)),
	}
	for _, svc := range services {
		c.categories[svc.ID] = Categorize(svc)
	}
	return c
}

// Services returns all services in encounter order. Callers must not mutate
// the returned slice or its elements.
func (c *Catalog) Services() []*models.Service {
	return c.services
}

// Len returns the number of cataloged services.
func (c *Catalog) Len() int {
	return len(c.services)
}

// Tags returns the cached category tags of a service.
func (c *Catalog) Tags(serviceID string) []Category {
	return c.categories[serviceID]
}

// HasTag reports whether a service carries the given tag. Every service is
// in CategoryAll.
func (c *Catalog) HasTag(serviceID string, cat Category) bool {
	if cat == CategoryAll {
		return true
	}
	for _, t := range c.categories[serviceID] {
		if t == cat {
			return true
		}
	}
	return false
}

// InCategory returns the services carrying the given tag, in encounter order.
func (c *Catalog) InCategory(cat Category) []*models.Service {
	if cat == CategoryAll {
		return c.services
	}
	var out []*models.Service
	for _, svc := range c.services {
		if c.HasTag(svc.ID, cat) {
			out = append(out, svc)
		}
	}
	return out
}

// Find resolves a service by exact id.
func (c *Catalog) Find(serviceID string) *models.Service {
	for _, svc := range c.services {
		if svc.ID == serviceID {
			return svc
		}
	}
	return nil
}

// SuggestByTitle looks for a service whose title matches the given name
// case-insensitively. It exists purely to produce a corrective "did you
// mean" hint when a caller mistakes a title for an id; a title is never
// accepted as a working id.
func (c *Catalog) SuggestByTitle(name string) string {
	for _, svc := range c.services {
		if strings.EqualFold(svc.Title, name) {
			return svc.ID
		}
	}
	return ""
}

// ServiceIDs returns all service ids in encounter order.
func (c *Catalog) ServiceIDs() []string {
	ids := make([]string, 0, len(c.services))
	for _, svc := range c.services {
		ids = append(ids, svc.ID)
	}
	return ids
}
