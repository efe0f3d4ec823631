// Copyright (c) 2025 OData Registry Contributors
// SPDX-License-Identifier: MIT

package server

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-registry/internal/catalog"
	"github.com/zmcp/odata-registry/internal/config"
	"github.com/zmcp/odata-registry/internal/destination"
	"github.com/zmcp/odata-registry/internal/models"
	"github.com/zmcp/odata-registry/internal/transport"
)

// noopClient satisfies the dispatcher's entity client without any network.
type noopClient struct {
	reads int
}

func (n *noopClient) Read(ctx context.Context, ep *destination.Endpoint, entitySet string, options map[string]string) (interface{}, error) {
	n.reads++
	return []interface{}{}, nil
}

func (n *noopClient) ReadOne(ctx context.Context, ep *destination.Endpoint, entitySet, key string, options map[string]string) (interface{}, error) {
	return map[string]interface{}{}, nil
}

func (n *noopClient) Create(ctx context.Context, ep *destination.Endpoint, entitySet string, payload map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{}, nil
}

func (n *noopClient) Update(ctx context.Context, ep *destination.Endpoint, entitySet, key string, payload map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{}, nil
}

func (n *noopClient) Delete(ctx context.Context, ep *destination.Endpoint, entitySet, key string) error {
	return nil
}

func testRegistry(t *testing.T) (*Registry, *noopClient) {
	t.Helper()
	cat := catalog.New([]*models.Service{
		{
			ID:          "API_BP",
			Title:       "Business Partner",
			Description: "Customers and suppliers",
			URL:         "https://erp.example.com/sap/API_BP/",
			EntityTypes: []*models.EntityType{
				{
					Name:      "Customer",
					EntitySet: "Customers",
					Keys:      []string{"ID"},
					Properties: []*models.Property{
						{Name: "ID", Type: "Edm.String"},
						{Name: "Email", Type: "Edm.String", Nullable: true},
					},
					Creatable: true,
					Updatable: true,
					Deletable: false,
				},
			},
		},
	})
	resolver := destination.NewResolver([]destination.Endpoint{
		{Name: "ERP", URL: "https://erp.example.com"},
	}, nil)
	client := &noopClient{}
	cfg := &config.Config{Destination: "ERP"}
	harvest := &models.HarvestInfo{ServiceRoots: []string{"/sap/API_BP/"}}
	return New(cfg, cat, harvest, resolver, client), client
}

func callTool(t *testing.T, r *Registry, name string, args map[string]interface{}) *transport.Message {
	t.Helper()
	params, err := json.Marshal(map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	require.NoError(t, err)

	resp, err := r.HandleMessage(context.Background(), &transport.Message{
		JSONRPC: "2.0",
		ID:      json.RawMessage("1"),
		Method:  "tools/call",
		Params:  params,
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	return resp
}

func toolText(t *testing.T, resp *transport.Message) string {
	t.Helper()
	require.Nil(t, resp.Error, "tool call failed: %v", resp.Error)
	var result struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	return result.Content[0].Text
}

func TestRegistersThreeTools(t *testing.T) {
	r, _ := testRegistry(t)

	tools := r.Server().Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, "search_services", tools[0].Name)
	assert.Equal(t, "execute_entity_operation", tools[1].Name)
	assert.Equal(t, "registry_info", tools[2].Name)
}

func TestSearchServicesTool(t *testing.T) {
	r, _ := testRegistry(t)

	text := toolText(t, callTool(t, r, "search_services", map[string]interface{}{
		"query": "email",
	}))

	var result struct {
		TotalFound   int                 `json:"total_found"`
		MappingTable []models.MappingRow `json:"mapping_table"`
		Guidance     string              `json:"guidance"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, 1, result.TotalFound)
	require.Len(t, result.MappingTable, 2)
	assert.Equal(t, "API_BP", result.MappingTable[0].ServiceID)
	assert.NotEmpty(t, result.Guidance)
}

func TestSearchServicesToolRejectsBadInput(t *testing.T) {
	r, _ := testRegistry(t)

	resp := callTool(t, r, "search_services", map[string]interface{}{
		"query":    "email",
		"category": "weather",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)

	resp = callTool(t, r, "search_services", map[string]interface{}{
		"limit": float64(-1),
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}

func TestExecuteToolRunsRead(t *testing.T) {
	r, client := testRegistry(t)

	text := toolText(t, callTool(t, r, "execute_entity_operation", map[string]interface{}{
		"service_id":  "API_BP",
		"entity_name": "Customer",
		"operation":   "read",
		"filter":      "Email ne ''",
	}))

	var result struct {
		Success bool `json:"success"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 1, client.reads)
}

func TestExecuteToolFoldsFailuresIntoResult(t *testing.T) {
	r, client := testRegistry(t)

	// Dispatch failures come back as a structured result, not a protocol
	// error.
	text := toolText(t, callTool(t, r, "execute_entity_operation", map[string]interface{}{
		"service_id":  "NO_SUCH_SERVICE",
		"entity_name": "Customer",
		"operation":   "read",
	}))

	var result struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "NO_SUCH_SERVICE")
	assert.Zero(t, client.reads)
}

func TestRegistryInfoSummary(t *testing.T) {
	r, _ := testRegistry(t)

	text := toolText(t, callTool(t, r, "registry_info", nil))

	var result struct {
		Total       int                 `json:"total"`
		ReadOnly    bool                `json:"read_only"`
		ByCategory  map[string]int      `json:"by_category"`
		HarvestInfo *models.HarvestInfo `json:"harvest_info"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, 1, result.Total)
	assert.False(t, result.ReadOnly)
	assert.Equal(t, 1, result.ByCategory["business-partner"])
	require.NotNil(t, result.HarvestInfo)
	assert.Equal(t, []string{"/sap/API_BP/"}, result.HarvestInfo.ServiceRoots)
}

func TestRegistryInfoServiceDetail(t *testing.T) {
	r, _ := testRegistry(t)

	text := toolText(t, callTool(t, r, "registry_info", map[string]interface{}{
		"service_id": "API_BP",
	}))

	var result struct {
		Service    *models.Service    `json:"service"`
		Categories []catalog.Category `json:"categories"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	require.NotNil(t, result.Service)
	assert.Equal(t, "API_BP", result.Service.ID)
	require.Len(t, result.Service.EntityTypes, 1)
	assert.Contains(t, result.Categories, catalog.CategoryBusinessPartner)

	// Unknown ids are a caller mistake, surfaced as invalid params.
	resp := callTool(t, r, "registry_info", map[string]interface{}{
		"service_id": "NOPE",
	})
	require.NotNil(t, resp.Error)
	assert.Equal(t, -32602, resp.Error.Code)
}
