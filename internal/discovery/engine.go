// Copyright (c) 2025 OData Registry Contributors
// SPDX-License-Identifier: MIT

package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zmcp/odata-registry/internal/catalog"
	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/models"
)

// Engine turns a free-text query into a ranked, flattened mapping of
// services, entities, and properties. It never fails for "no matches":
// four increasingly permissive tiers are tried in order, and the last one
// returns every service in-category so the caller is never left without
// guidance. Only structurally invalid input produces an error.
type Engine struct {
	cat *catalog.Catalog
}

// New creates a discovery engine over an immutable catalog.
func New(cat *catalog.Catalog) *Engine {
	return &Engine{cat: cat}
}

type matchKind string

const (
	kindService  matchKind = "service"
	kindEntity   matchKind = "entity"
	kindProperty matchKind = "property"
)

// match is a transient per-search record. entity is nil for service-level
// matches, in which case the whole service flattens into the mapping table.
type match struct {
	kind    matchKind
	score   float64
	service *models.Service
	entity  *models.EntityType
	reason  string
}

// Result is the externally visible outcome of a search. MappingTable always
// carries the full property set of every retained entity.
type Result struct {
	TotalFound           int                 `json:"total_found"`
	Query                string              `json:"query"`
	Category             catalog.Category    `json:"category"`
	UsedCategoryFallback bool                `json:"used_category_fallback"`
	ReturnedAllServices  bool                `json:"returned_all_services"`
	MappingTable         []models.MappingRow `json:"mapping_table"`
	Guidance             string              `json:"guidance"`
}

// Search runs the tiered relevance search. limit < 0 is a validation
// error; 0 means the default; anything above the maximum is clamped.
func (e *Engine) Search(query string, category catalog.Category, limit int) (*Result, error) {
	if limit < 0 {
		return nil, &models.ValidationError{Message: fmt.Sprintf("limit must not be negative, got %d", limit)}
	}
	if limit == 0 {
		limit = constants.DefaultSearchLimit
	}
	if limit > constants.MaxSearchLimit {
		limit = constants.MaxSearchLimit
	}

	query = strings.TrimSpace(query)
	actual := category
	usedFallback := false
	returnedAll := false

	var matches []match
	if query == "" {
		// No query: every service in-category, uniform score.
		matches = e.listCategory(category)
	} else {
		lowered := strings.ToLower(query)
		words := strings.Fields(lowered)

		// Tier 1: combined match in the requested category.
		matches = e.scan(category, []string{lowered})

		// Tier 2: separated (per-word AND) match, same category.
		if len(matches) == 0 && len(words) >= 2 {
			matches = e.scan(category, words)
		}

		// Tier 3: retry both modes with the category widened to all.
		if len(matches) == 0 && category != catalog.CategoryAll {
			matches = e.scan(catalog.CategoryAll, []string{lowered})
			if len(matches) == 0 && len(words) >= 2 {
				matches = e.scan(catalog.CategoryAll, words)
			}
			if len(matches) > 0 {
				actual = catalog.CategoryAll
				usedFallback = true
			}
		}

		// Tier 4: ignore the query, return everything in-category.
		if len(matches) == 0 {
			tierCat := category
			if len(e.cat.InCategory(tierCat)) == 0 && tierCat != catalog.CategoryAll {
				tierCat = catalog.CategoryAll
				usedFallback = true
			}
			actual = tierCat
			matches = e.listCategory(tierCat)
			returnedAll = true
		}
	}

	total := len(matches)
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	truncated := len(matches) > limit
	if truncated {
		matches = matches[:limit]
	}

	res := &Result{
		TotalFound:           total,
		Query:                query,
		Category:             actual,
		UsedCategoryFallback: usedFallback,
		ReturnedAllServices:  returnedAll,
		MappingTable:         flatten(matches),
	}
	res.Guidance = e.guidance(res, truncated)
	return res, nil
}

// scan runs one matching pass over the catalog. terms holds a single
// element in combined mode and one element per query word in separated
// mode; a field matches only if it contains every term. Matches are
// collected in catalog encounter order so the later stable sort preserves
// it among equal scores.
func (e *Engine) scan(category catalog.Category, terms []string) []match {
	var out []match
	for _, svc := range e.cat.InCategory(category) {
		if field, score := serviceFieldMatch(svc, terms); score > 0 {
			out = append(out, match{
				kind:    kindService,
				score:   score,
				service: svc,
				reason:  fmt.Sprintf("service %s matches %s", field, quoteTerms(terms)),
			})
		}
		for _, et := range svc.EntityTypes {
			if containsAll(strings.ToLower(et.Name), terms) {
				out = append(out, match{
					kind:    kindEntity,
					score:   constants.ScoreEntityName,
					service: svc,
					entity:  et,
					reason:  fmt.Sprintf("entity name matches %s", quoteTerms(terms)),
				})
				continue
			}
			var hits []string
			for _, p := range et.Properties {
				if containsAll(strings.ToLower(p.Name), terms) {
					hits = append(hits, p.Name)
				}
			}
			if len(hits) > 0 {
				// First matching property sets the score; every
				// matching name is kept for the reason.
				out = append(out, match{
					kind:    kindProperty,
					score:   constants.ScorePropertyName,
					service: svc,
					entity:  et,
					reason:  fmt.Sprintf("properties %s match %s", strings.Join(hits, ", "), quoteTerms(terms)),
				})
			}
		}
	}
	return out
}

// listCategory produces one uniform-score service match per catalog entry.
func (e *Engine) listCategory(category catalog.Category) []match {
	var out []match
	for _, svc := range e.cat.InCategory(category) {
		out = append(out, match{
			kind:    kindService,
			score:   constants.NoQueryScore,
			service: svc,
			reason:  fmt.Sprintf("listed for category %q", category),
		})
	}
	return out
}

// serviceFieldMatch tests the service-level fields in descending weight
// order and returns the first hit.
func serviceFieldMatch(svc *models.Service, terms []string) (string, float64) {
	if containsAll(strings.ToLower(svc.ID), terms) {
		return "id", constants.ScoreServiceID
	}
	if containsAll(strings.ToLower(svc.Title), terms) {
		return "title", constants.ScoreServiceTitle
	}
	if containsAll(strings.ToLower(svc.Description), terms) {
		return "description", constants.ScoreServiceDescription
	}
	return "", 0
}

func containsAll(field string, terms []string) bool {
	for _, t := range terms {
		if !strings.Contains(field, t) {
			return false
		}
	}
	return true
}

func quoteTerms(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	return strings.Join(quoted, " AND ")
}

// flatten expands retained matches into one mapping row per (entity,
// property) pair. A service-level match contributes every entity of the
// service; an entity or property match contributes that entity's complete
// property set. Duplicate (service, entity) pairs collapse to their first,
// highest-ranked occurrence.
func flatten(matches []match) []models.MappingRow {
	rows := make([]models.MappingRow, 0)
	seen := make(map[string]bool)

	addEntity := func(svc *models.Service, et *models.EntityType) {
		key := svc.ID + "\x00" + et.Name
		if seen[key] {
			return
		}
		seen[key] = true
		caps := capabilitySummary(et)
		for _, p := range et.Properties {
			rows = append(rows, models.MappingRow{
				ServiceID:         svc.ID,
				ServiceName:       svc.Title,
				EntityName:        et.Name,
				EntitySet:         et.EntitySet,
				PropertyName:      p.Name,
				PropertyType:      p.Type,
				IsKey:             et.IsKey(p.Name),
				Nullable:          p.Nullable,
				MaxLength:         p.MaxLength,
				CapabilitySummary: caps,
			})
		}
	}

	for _, m := range matches {
		if m.entity != nil {
			addEntity(m.service, m.entity)
			continue
		}
		for _, et := range m.service.EntityTypes {
			addEntity(m.service, et)
		}
	}
	return rows
}

func capabilitySummary(et *models.EntityType) string {
	return fmt.Sprintf("read:yes create:%s update:%s delete:%s",
		yesNo(et.Creatable), yesNo(et.Updatable), yesNo(et.Deletable))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// guidance renders a short human-readable explanation of what the search
// did and how to act on the mapping table. Truncation is reported only
// when matches were actually cut; one service can contribute several
// matches that collapse into a single entity, so row counts cannot tell.
func (e *Engine) guidance(res *Result, truncated bool) string {
	var b strings.Builder
	switch {
	case res.Query == "":
		fmt.Fprintf(&b, "No query given; listing all %d service(s) in category %q.", res.TotalFound, res.Category)
	case res.ReturnedAllServices:
		fmt.Fprintf(&b, "No service, entity, or property matched %q; listing all %d service(s) in category %q instead.", res.Query, res.TotalFound, res.Category)
	default:
		fmt.Fprintf(&b, "Found %d match(es) for %q in category %q.", res.TotalFound, res.Query, res.Category)
	}
	if res.UsedCategoryFallback {
		b.WriteString(" The requested category had no results, so the search was widened to all categories.")
	}
	if truncated {
		fmt.Fprintf(&b, " Results are truncated; raise the limit (max %d) or refine the query to see more.", constants.MaxSearchLimit)
	}
	b.WriteString(" Use the service_id and entity_name columns with execute_entity_operation to run CRUD calls.")
	return b.String()
}
