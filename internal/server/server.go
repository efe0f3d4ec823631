// Copyright (c) 2025 OData Registry Contributors
// SPDX-License-Identifier: MIT

package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zmcp/odata-registry/internal/catalog"
	"github.com/zmcp/odata-registry/internal/config"
	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/destination"
	"github.com/zmcp/odata-registry/internal/discovery"
	"github.com/zmcp/odata-registry/internal/dispatch"
	"github.com/zmcp/odata-registry/internal/mcp"
	"github.com/zmcp/odata-registry/internal/models"
	"github.com/zmcp/odata-registry/internal/transport"
)

// Registry exposes the whole service catalog through three generic MCP
// tools instead of one tool per entity and operation: a relevance search
// over the catalog, a CRUD dispatcher, and a catalog summary.
type Registry struct {
	cfg        *config.Config
	cat        *catalog.Catalog
	engine     *discovery.Engine
	dispatcher *dispatch.Dispatcher
	server     *mcp.Server
	harvest    *models.HarvestInfo
}

// New wires the discovery engine and dispatcher over an already-harvested
// catalog and registers the tool surface.
func New(cfg *config.Config, cat *catalog.Catalog, harvest *models.HarvestInfo, resolver *destination.Resolver, entityClient dispatch.EntityClient) *Registry {
	r := &Registry{
		cfg:        cfg,
		cat:        cat,
		engine:     discovery.New(cat),
		dispatcher: dispatch.New(cat, resolver, entityClient, cfg.Destination, cfg.ReadOnly, cfg.Verbose),
		server:     mcp.NewServer(constants.MCPServerName, constants.MCPServerVersion),
		harvest:    harvest,
	}
	r.registerTools()
	return r
}

// Server returns the underlying MCP server.
func (r *Registry) Server() *mcp.Server {
	return r.server
}

// HandleMessage delegates transport messages to the MCP server.
func (r *Registry) HandleMessage(ctx context.Context, msg *transport.Message) (*transport.Message, error) {
	return r.server.HandleMessage(ctx, msg)
}

func (r *Registry) registerTools() {
	r.registerSearchTool()
	r.registerExecuteTool()
	r.registerInfoTool()
}

func (r *Registry) registerSearchTool() {
	categories := make([]string, len(catalog.Categories))
	for i, c := range catalog.Categories {
		categories[i] = string(c)
	}

	tool := &mcp.Tool{
		Name:        "search_services",
		Description: "Search the service catalog for services, entities, and properties matching a free-text query. Returns a flattened mapping table with one row per property, including keys and CRUD capabilities.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Free-text search over service ids, titles, descriptions, entity names, and property names. Empty lists everything in-category.",
				},
				"category": map[string]interface{}{
					"type":        "string",
					"description": "Restrict the search to one business category",
					"enum":        categories,
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": fmt.Sprintf("Maximum number of matches to retain (1-%d, default %d)", constants.MaxSearchLimit, constants.DefaultSearchLimit),
				},
			},
		},
	}

	r.server.AddTool(tool, func(ctx context.Context, args map[string]interface{}) (string, error) {
		query, _ := args["query"].(string)
		categoryArg, _ := args["category"].(string)
		limit := 0
		if f, ok := args["limit"].(float64); ok {
			limit = int(f)
		}

		category, err := catalog.ParseCategory(categoryArg)
		if err != nil {
			return "", err
		}
		result, err := r.engine.Search(query, category, limit)
		if err != nil {
			return "", err
		}
		return marshal(result)
	})
}

func (r *Registry) registerExecuteTool() {
	operations := make([]string, len(dispatch.Operations))
	for i, op := range dispatch.Operations {
		operations[i] = string(op)
	}

	tool := &mcp.Tool{
		Name:        "execute_entity_operation",
		Description: "Execute a CRUD operation against one entity of a cataloged service. Use search_services first to find the service_id and entity_name.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service_id": map[string]interface{}{
					"type":        "string",
					"description": "Catalog service id (not the human-readable title)",
				},
				"entity_name": map[string]interface{}{
					"type":        "string",
					"description": "Entity type name within the service",
				},
				"operation": map[string]interface{}{
					"type":        "string",
					"description": "Operation to perform",
					"enum":        operations,
				},
				"parameters": map[string]interface{}{
					"type":        "object",
					"description": "Key properties and entity data as a JSON object. Keys are required for read-single, update, and delete.",
				},
				"filter": map[string]interface{}{
					"type":        "string",
					"description": "OData $filter expression (read only)",
				},
				"select": map[string]interface{}{
					"type":        "string",
					"description": "Comma-separated list of properties to select",
				},
				"expand": map[string]interface{}{
					"type":        "string",
					"description": "Navigation properties to expand",
				},
				"orderby": map[string]interface{}{
					"type":        "string",
					"description": "Properties to order by with optional asc/desc",
				},
				"top": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of entities to return",
				},
				"skip": map[string]interface{}{
					"type":        "integer",
					"description": "Number of entities to skip",
				},
				"query_options": map[string]interface{}{
					"type":        "object",
					"description": "Legacy raw query options ($filter, $top, ...). Entries override the discrete fields above.",
				},
				"use_user_token": map[string]interface{}{
					"type":        "boolean",
					"description": "Set false to force the technical service account even when an end-user token is present",
					"default":     true,
				},
				"user_token": map[string]interface{}{
					"type":        "string",
					"description": "End-user bearer token for this call; omitted means the technical service account",
				},
			},
			"required": []string{"service_id", "entity_name", "operation"},
		},
	}

	r.server.AddTool(tool, func(ctx context.Context, args map[string]interface{}) (string, error) {
		req := decodeExecuteRequest(args)
		// Dispatch failures are part of the structured response, never
		// a protocol error.
		return marshal(r.dispatcher.Execute(ctx, req))
	})
}

func (r *Registry) registerInfoTool() {
	tool := &mcp.Tool{
		Name:        "registry_info",
		Description: "Get a summary of the cataloged services and their categories, or full entity detail for one service.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"service_id": map[string]interface{}{
					"type":        "string",
					"description": "Return entity and property detail for this service only",
				},
			},
		},
	}

	r.server.AddTool(tool, func(ctx context.Context, args map[string]interface{}) (string, error) {
		if serviceID, _ := args["service_id"].(string); serviceID != "" {
			return r.serviceDetail(serviceID)
		}
		return r.catalogSummary()
	})
}

func (r *Registry) serviceDetail(serviceID string) (string, error) {
	svc := r.cat.Find(serviceID)
	if svc == nil {
		return "", &models.NotFoundError{
			Kind:       "service",
			Name:       serviceID,
			Suggestion: r.cat.SuggestByTitle(serviceID),
		}
	}
	return marshal(map[string]interface{}{
		"service":    svc,
		"categories": r.cat.Tags(svc.ID),
	})
}

func (r *Registry) catalogSummary() (string, error) {
	type serviceSummary struct {
		ID          string             `json:"id"`
		Title       string             `json:"title"`
		Categories  []catalog.Category `json:"categories"`
		EntityCount int                `json:"entity_count"`
	}

	summaries := make([]serviceSummary, 0, r.cat.Len())
	for _, svc := range r.cat.Services() {
		summaries = append(summaries, serviceSummary{
			ID:          svc.ID,
			Title:       svc.Title,
			Categories:  r.cat.Tags(svc.ID),
			EntityCount: len(svc.EntityTypes),
		})
	}

	byCategory := make(map[catalog.Category]int)
	for _, svc := range r.cat.Services() {
		for _, tag := range r.cat.Tags(svc.ID) {
			byCategory[tag]++
		}
	}

	return marshal(map[string]interface{}{
		"services":     summaries,
		"by_category":  byCategory,
		"total":        r.cat.Len(),
		"read_only":    r.cfg.ReadOnly,
		"harvest_info": r.harvest,
	})
}

// decodeExecuteRequest maps tool-call arguments onto a dispatch request.
// JSON numbers arrive as float64.
func decodeExecuteRequest(args map[string]interface{}) *dispatch.Request {
	req := &dispatch.Request{}
	req.ServiceID, _ = args["service_id"].(string)
	req.EntityName, _ = args["entity_name"].(string)
	req.Operation, _ = args["operation"].(string)
	req.Parameters, _ = args["parameters"].(map[string]interface{})
	req.Filter, _ = args["filter"].(string)
	req.Select, _ = args["select"].(string)
	req.Expand, _ = args["expand"].(string)
	req.OrderBy, _ = args["orderby"].(string)
	if f, ok := args["top"].(float64); ok {
		n := int(f)
		req.Top = &n
	}
	if f, ok := args["skip"].(float64); ok {
		n := int(f)
		req.Skip = &n
	}
	if raw, ok := args["query_options"].(map[string]interface{}); ok {
		req.QueryOptions = make(map[string]string, len(raw))
		for k, v := range raw {
			req.QueryOptions[k] = fmt.Sprintf("%v", v)
		}
	}
	if b, ok := args["use_user_token"].(bool); ok {
		req.UseUserToken = &b
	}
	req.UserToken, _ = args["user_token"].(string)
	return req
}

func marshal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to format response: %w", err)
	}
	return string(data), nil
}
