package metadata

import (
	"encoding/xml"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/models"
)

// edmx structs mirror the EDMX $metadata document. SAP services annotate
// entity sets with sap:creatable/updatable/deletable; absent attributes
// mean the operation is allowed.

type edmx struct {
	XMLName      xml.Name     `xml:"Edmx"`
	Version      string       `xml:"Version,attr"`
	DataServices dataServices `xml:"DataServices"`
}

type dataServices struct {
	Schemas []schema `xml:"Schema"`
}

type schema struct {
	Namespace       string          `xml:"Namespace,attr"`
	EntityTypes     []entityType    `xml:"EntityType"`
	EntityContainer entityContainer `xml:"EntityContainer"`
}

type entityType struct {
	Name       string     `xml:"Name,attr"`
	Key        key        `xml:"Key"`
	Properties []property `xml:"Property"`
}

type key struct {
	PropertyRefs []propertyRef `xml:"PropertyRef"`
}

type propertyRef struct {
	Name string `xml:"Name,attr"`
}

type property struct {
	Name      string `xml:"Name,attr"`
	Type      string `xml:"Type,attr"`
	Nullable  string `xml:"Nullable,attr"`
	MaxLength string `xml:"MaxLength,attr"`
}

type entityContainer struct {
	Name       string      `xml:"Name,attr"`
	EntitySets []entitySet `xml:"EntitySet"`
}

type entitySet struct {
	Name       string `xml:"Name,attr"`
	EntityType string `xml:"EntityType,attr"`
	Creatable  string `xml:"creatable,attr"`
	Updatable  string `xml:"updatable,attr"`
	Deletable  string `xml:"deletable,attr"`
}

// serviceIDFromRoot derives the stable service id from a service root URL:
// the last meaningful path segment (e.g. .../sap/API_BUSINESS_PARTNER/ ->
// API_BUSINESS_PARTNER).
func serviceIDFromRoot(serviceRoot string) string {
	trimmed := strings.TrimSuffix(serviceRoot, "/")
	id := path.Base(trimmed)
	if id == "" || id == "." || id == "/" {
		return trimmed
	}
	return id
}

// ParseService parses an EDMX $metadata document into a catalog service.
// The service id derives from the root URL; the title falls back to the
// container name when the document offers nothing better.
func ParseService(data []byte, serviceRoot string) (*models.Service, error) {
	var doc edmx
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata XML: %w", err)
	}
	if len(doc.DataServices.Schemas) == 0 {
		return nil, fmt.Errorf("metadata document contains no schema")
	}

	svc := &models.Service{
		ID:           serviceIDFromRoot(serviceRoot),
		URL:          serviceRoot,
		Version:      doc.Version,
		ODataVersion: constants.ODataVersionFromNamespace(doc.XMLName.Space),
	}
	if doc.Version == "4.0" || doc.Version == "4.01" {
		svc.ODataVersion = "4.0"
	}

	// Entity types may live in a different schema than the container.
	types := make(map[string]entityType)
	var container *entityContainer
	containerNS := ""
	for i := range doc.DataServices.Schemas {
		s := &doc.DataServices.Schemas[i]
		for _, et := range s.EntityTypes {
			types[s.Namespace+"."+et.Name] = et
		}
		if len(s.EntityContainer.EntitySets) > 0 {
			container = &s.EntityContainer
			containerNS = s.Namespace
		}
	}
	if container == nil {
		return nil, fmt.Errorf("metadata document contains no entity container")
	}
	if svc.Title == "" {
		svc.Title = container.Name
	}

	for _, es := range container.EntitySets {
		et, ok := lookupType(types, es.EntityType)
		if !ok {
			continue
		}
		svc.EntityTypes = append(svc.EntityTypes, convertEntity(es, et, containerNS))
	}

	return svc, nil
}

func lookupType(types map[string]entityType, qualified string) (entityType, bool) {
	if et, ok := types[qualified]; ok {
		return et, true
	}
	// Fall back to matching on the unqualified name.
	short := qualified
	if idx := strings.LastIndex(qualified, "."); idx >= 0 {
		short = qualified[idx+1:]
	}
	for name, et := range types {
		if strings.HasSuffix(name, "."+short) {
			return et, true
		}
	}
	return entityType{}, false
}

func convertEntity(es entitySet, et entityType, namespace string) *models.EntityType {
	out := &models.EntityType{
		Name:      et.Name,
		EntitySet: es.Name,
		Namespace: namespace,
		Creatable: es.Creatable != "false", // absent means allowed
		Updatable: es.Updatable != "false",
		Deletable: es.Deletable != "false",
	}
	for _, ref := range et.Key.PropertyRefs {
		out.Keys = append(out.Keys, ref.Name)
	}
	for _, p := range et.Properties {
		maxLen := 0
		if p.MaxLength != "" && p.MaxLength != "Max" {
			if n, err := strconv.Atoi(p.MaxLength); err == nil {
				maxLen = n
			}
		}
		out.Properties = append(out.Properties, &models.Property{
			Name:      p.Name,
			Type:      p.Type,
			Nullable:  p.Nullable != "false", // default true
			MaxLength: maxLen,
		})
	}
	return out
}
