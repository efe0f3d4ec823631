package models

import "time"

// Property represents a single property of an entity type
type Property struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // OData type (e.g., "Edm.String")
	Nullable  bool   `json:"nullable"`
	MaxLength int    `json:"max_length,omitempty"`
}

// EntityType represents one addressable entity of a service, together with
// the write capabilities the remote service advertises for it. Reading is
// always permitted.
type EntityType struct {
	Name       string      `json:"name"`
	EntitySet  string      `json:"entity_set"`
	Namespace  string      `json:"namespace,omitempty"`
	Keys       []string    `json:"keys"` // subset of property names, declared order
	Properties []*Property `json:"properties"`
	Creatable  bool        `json:"creatable"`
	Updatable  bool        `json:"updatable"`
	Deletable  bool        `json:"deletable"`
}

// Service represents one cataloged OData service
type Service struct {
	ID           string        `json:"id"` // stable lookup key, never the title
	Title        string        `json:"title"`
	Description  string        `json:"description,omitempty"`
	URL          string        `json:"url"`
	Version      string        `json:"version,omitempty"`
	ODataVersion string        `json:"odata_version,omitempty"`
	EntityTypes  []*EntityType `json:"entity_types"`
}

// EntityType returns the entity type with the given name, or nil.
func (s *Service) EntityType(name string) *EntityType {
	for _, et := range s.EntityTypes {
		if et.Name == name {
			return et
		}
	}
	return nil
}

// EntityNames returns the entity type names in declaration order.
func (s *Service) EntityNames() []string {
	names := make([]string, 0, len(s.EntityTypes))
	for _, et := range s.EntityTypes {
		names = append(names, et.Name)
	}
	return names
}

// Property returns the named property, or nil.
func (e *EntityType) Property(name string) *Property {
	for _, p := range e.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// IsKey reports whether the named property is part of the entity key.
func (e *EntityType) IsKey(property string) bool {
	for _, k := range e.Keys {
		if k == property {
			return true
		}
	}
	return false
}

// MappingRow is one flattened (entity, property) pair of a discovery
// result. The mapping table, not the internal match list, is the
// externally visible output of a search.
type MappingRow struct {
	ServiceID         string `json:"service_id"`
	ServiceName       string `json:"service_name"`
	EntityName        string `json:"entity_name"`
	EntitySet         string `json:"entity_set"`
	PropertyName      string `json:"property_name"`
	PropertyType      string `json:"property_type"`
	IsKey             bool   `json:"is_key"`
	Nullable          bool   `json:"nullable"`
	MaxLength         int    `json:"max_length,omitempty"`
	CapabilitySummary string `json:"capabilities"`
}

// HarvestInfo records when and from where a catalog was built
type HarvestInfo struct {
	ServiceRoots []string  `json:"service_roots"`
	HarvestedAt  time.Time `json:"harvested_at"`
	Skipped      []string  `json:"skipped,omitempty"`
}
