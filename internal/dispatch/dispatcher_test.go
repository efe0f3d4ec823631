// Copyright (c) 2025 OData Registry Contributors
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zmcp/odata-registry/internal/catalog"
	"github.com/zmcp/odata-registry/internal/destination"
	"github.com/zmcp/odata-registry/internal/models"
)

// fakeClient records the last wire call instead of talking to a remote
// service.
type fakeClient struct {
	calls       []string
	lastSet     string
	lastKey     string
	lastOptions map[string]string
	lastPayload map[string]interface{}
	lastToken   string
	result      interface{}
	err         error
}

func (f *fakeClient) record(call, set, key string, options map[string]string, payload map[string]interface{}, ep *destination.Endpoint) {
	f.calls = append(f.calls, call)
	f.lastSet = set
	f.lastKey = key
	f.lastOptions = options
	f.lastPayload = payload
	f.lastToken = ep.Token
}

func (f *fakeClient) Read(ctx context.Context, ep *destination.Endpoint, entitySet string, options map[string]string) (interface{}, error) {
	f.record("read", entitySet, "", options, nil, ep)
	return f.result, f.err
}

func (f *fakeClient) ReadOne(ctx context.Context, ep *destination.Endpoint, entitySet, key string, options map[string]string) (interface{}, error) {
	f.record("read-one", entitySet, key, options, nil, ep)
	return f.result, f.err
}

func (f *fakeClient) Create(ctx context.Context, ep *destination.Endpoint, entitySet string, payload map[string]interface{}) (interface{}, error) {
	f.record("create", entitySet, "", nil, payload, ep)
	return f.result, f.err
}

func (f *fakeClient) Update(ctx context.Context, ep *destination.Endpoint, entitySet, key string, payload map[string]interface{}) (interface{}, error) {
	f.record("update", entitySet, key, nil, payload, ep)
	return f.result, f.err
}

func (f *fakeClient) Delete(ctx context.Context, ep *destination.Endpoint, entitySet, key string) error {
	f.record("delete", entitySet, key, nil, nil, ep)
	return f.err
}

func testCatalog() *catalog.Catalog {
	return catalog.New([]*models.Service{
		{
			ID:    "API_BP",
			Title: "Business Partner",
			URL:   "https://erp.example.com/sap/opu/odata/sap/API_BP/",
			EntityTypes: []*models.EntityType{
				{
					Name:      "Customer",
					EntitySet: "Customers",
					Keys:      []string{"ID"},
					Properties: []*models.Property{
						{Name: "ID", Type: "Edm.String"},
						{Name: "Name", Type: "Edm.String", Nullable: true},
						{Name: "Email", Type: "Edm.String", Nullable: true},
					},
					Creatable: true,
					Updatable: true,
					Deletable: false,
				},
				{
					Name:      "OrderItem",
					EntitySet: "OrderItems",
					Keys:      []string{"OrderID", "ItemNo"},
					Properties: []*models.Property{
						{Name: "OrderID", Type: "Edm.String"},
						{Name: "ItemNo", Type: "Edm.Int32"},
						{Name: "Quantity", Type: "Edm.Decimal", Nullable: true},
					},
					Creatable: true,
					Updatable: true,
					Deletable: true,
				},
				{
					Name:      "Counter",
					EntitySet: "Counters",
					Keys:      []string{"Seq"},
					Properties: []*models.Property{
						{Name: "Seq", Type: "Edm.Int32"},
						{Name: "Value", Type: "Edm.Int32", Nullable: true},
					},
					Creatable: true,
					Updatable: true,
					Deletable: true,
				},
			},
		},
	})
}

func testDispatcher(client *fakeClient, readOnly bool) *Dispatcher {
	resolver := destination.NewResolver([]destination.Endpoint{
		{Name: "ERP", URL: "https://erp.example.com", Username: "tech", Password: "secret"},
	}, nil)
	return New(testCatalog(), resolver, client, "ERP", readOnly, false)
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		input   string
		want    Operation
		wantErr bool
	}{
		{input: "read", want: OpRead},
		{input: "READ-single", want: OpReadSingle},
		{input: " delete ", want: OpDelete},
		{input: "upsert", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOperation(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "read, read-single, create, update, delete")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExecuteUnknownOperation(t *testing.T) {
	client := &fakeClient{}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "upsert",
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, `unknown operation "upsert"`)
	assert.Empty(t, client.calls)
}

func TestExecuteServiceNotFoundSuggestsID(t *testing.T) {
	client := &fakeClient{}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "Business Partner", // a title, not an id
		EntityName: "Customer",
		Operation:  "read",
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, `did you mean "API_BP"`)
	assert.Empty(t, client.calls)
}

func TestExecuteEntityNotFoundListsValid(t *testing.T) {
	client := &fakeClient{}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customers", // entity set name, not the type name
		Operation:  "read",
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, `did you mean "Customer"`)
	assert.Contains(t, resp.Error, "Customer, OrderItem")
	assert.Empty(t, client.calls)
}

func TestExecuteReadOnlyMode(t *testing.T) {
	client := &fakeClient{}
	d := testDispatcher(client, true)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "create",
		Parameters: map[string]interface{}{"Name": "ACME"},
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "read-only")
	assert.Empty(t, client.calls)

	// Reads still go through.
	resp = d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "read",
	})
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"read"}, client.calls)
}

func TestExecuteCapabilityGate(t *testing.T) {
	client := &fakeClient{}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer", // deletable=false
		Operation:  "delete",
		Parameters: map[string]interface{}{"ID": "1"},
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "not allowed")
	assert.Empty(t, client.calls, "capability gating happens before any network call")
}

func TestExecuteReadQueryOptions(t *testing.T) {
	client := &fakeClient{result: []interface{}{}}
	d := testDispatcher(client, false)

	top := 5
	skip := 10
	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "read",
		Filter:     "Name eq 'ACME'",
		Select:     "ID,Name",
		Top:        &top,
		Skip:       &skip,
	})

	require.True(t, resp.Success)
	assert.Equal(t, "Customers", client.lastSet)
	assert.Equal(t, map[string]string{
		"$filter": "Name eq 'ACME'",
		"$select": "ID,Name",
		"$top":    "5",
		"$skip":   "10",
	}, client.lastOptions)
}

func TestExecuteLegacyOptionsOverwriteDiscrete(t *testing.T) {
	client := &fakeClient{result: []interface{}{}}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:    "API_BP",
		EntityName:   "Customer",
		Operation:    "read",
		Filter:       "Name eq 'ACME'",
		QueryOptions: map[string]string{"$filter": "Name eq 'Other'", "$orderby": "Name desc"},
	})

	require.True(t, resp.Success)
	assert.Equal(t, "Name eq 'Other'", client.lastOptions["$filter"])
	assert.Equal(t, "Name desc", client.lastOptions["$orderby"])
}

func TestExecuteReadSingle(t *testing.T) {
	client := &fakeClient{result: map[string]interface{}{"ID": "1"}}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "read-single",
		Parameters: map[string]interface{}{"ID": "1"},
	})

	require.True(t, resp.Success)
	assert.Equal(t, []string{"read-one"}, client.calls)
	assert.Equal(t, "'1'", client.lastKey)
}

func TestExecuteKeyQuotingFollowsDeclaredType(t *testing.T) {
	client := &fakeClient{result: map[string]interface{}{}}
	d := testDispatcher(client, false)

	// A digit-only Edm.String key travels quoted; SAP ids are zero-padded
	// strings and Customers(0001) resolves to the wrong entity.
	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "read-single",
		Parameters: map[string]interface{}{"ID": "0001"},
	})
	require.True(t, resp.Success)
	assert.Equal(t, "'0001'", client.lastKey)

	// An Edm.Int32 key stays a bare literal.
	resp = d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Counter",
		Operation:  "read-single",
		Parameters: map[string]interface{}{"Seq": float64(7)},
	})
	require.True(t, resp.Success)
	assert.Equal(t, "7", client.lastKey)
}

func TestExecuteUpdateStripsKeys(t *testing.T) {
	client := &fakeClient{result: map[string]interface{}{}}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "update",
		Parameters: map[string]interface{}{"ID": "1"},
	})

	require.True(t, resp.Success)
	assert.Equal(t, "'1'", client.lastKey)
	assert.Empty(t, client.lastPayload, "key-only parameters leave an empty update body")
}

func TestExecuteCreateKeepsKeysDropsSystemOptions(t *testing.T) {
	client := &fakeClient{result: map[string]interface{}{}}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "create",
		Parameters: map[string]interface{}{"ID": "1", "Name": "ACME", "$select": "ID"},
	})

	require.True(t, resp.Success)
	assert.Equal(t, map[string]interface{}{"ID": "1", "Name": "ACME"}, client.lastPayload)
}

func TestExecuteDeleteSynthesizesAck(t *testing.T) {
	client := &fakeClient{}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "OrderItem",
		Operation:  "delete",
		Parameters: map[string]interface{}{"OrderID": "500", "ItemNo": float64(10)},
	})

	require.True(t, resp.Success)
	ack, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "deleted", ack["status"])
	assert.Equal(t, "OrderItems", ack["entity_set"])
	assert.Equal(t, "OrderID='500',ItemNo='10'", ack["key"])
}

func TestExecuteUpstreamErrorSurfaces(t *testing.T) {
	client := &fakeClient{err: errors.New("503 Service Unavailable")}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "read",
	})

	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "503 Service Unavailable")
}

func TestExecuteUserTokenForwarding(t *testing.T) {
	client := &fakeClient{result: []interface{}{}}
	d := testDispatcher(client, false)

	resp := d.Execute(context.Background(), &Request{
		ServiceID:  "API_BP",
		EntityName: "Customer",
		Operation:  "read",
		UserToken:  "user-jwt",
	})
	require.True(t, resp.Success)
	assert.Equal(t, "user-jwt", client.lastToken)

	// Explicit opt-out forces the technical credential.
	optOut := false
	resp = d.Execute(context.Background(), &Request{
		ServiceID:    "API_BP",
		EntityName:   "Customer",
		Operation:    "read",
		UserToken:    "user-jwt",
		UseUserToken: &optOut,
	})
	require.True(t, resp.Success)
	assert.Equal(t, "", client.lastToken)
}

func TestBuildKeyValue(t *testing.T) {
	single := &models.EntityType{
		Name: "Customer",
		Keys: []string{"ID"},
	}
	composite := &models.EntityType{
		Name: "OrderItem",
		Keys: []string{"OrderID", "ItemNo"},
	}

	tests := []struct {
		name    string
		entity  *models.EntityType
		params  map[string]interface{}
		want    string
		wantErr string
	}{
		{
			name:   "Single key returns raw value",
			entity: single,
			params: map[string]interface{}{"ID": "0001"},
			want:   "0001",
		},
		{
			name:   "Single numeric key drops fractional zero",
			entity: single,
			params: map[string]interface{}{"ID": float64(42)},
			want:   "42",
		},
		{
			name:   "Composite key in declared order",
			entity: composite,
			params: map[string]interface{}{"ItemNo": float64(10), "OrderID": "500"},
			want:   "OrderID='500',ItemNo='10'",
		},
		{
			name:    "Missing key names all required keys",
			entity:  composite,
			params:  map[string]interface{}{"OrderID": "500"},
			wantErr: "OrderID, ItemNo",
		},
		{
			name:    "Single key missing",
			entity:  single,
			params:  map[string]interface{}{},
			wantErr: `missing required key property "ID"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildKeyValue(tt.entity, tt.params)
			if tt.wantErr != "" {
				require.Error(t, err)
				var kerr *models.KeyError
				assert.ErrorAs(t, err, &kerr)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWireKey(t *testing.T) {
	stringKey := &models.EntityType{
		Keys:       []string{"ID"},
		Properties: []*models.Property{{Name: "ID", Type: "Edm.String"}},
	}
	intKey := &models.EntityType{
		Keys:       []string{"Seq"},
		Properties: []*models.Property{{Name: "Seq", Type: "Edm.Int32"}},
	}
	untyped := &models.EntityType{
		Keys:       []string{"ID"},
		Properties: []*models.Property{{Name: "ID"}},
	}
	composite := &models.EntityType{Keys: []string{"OrderID", "ItemNo"}}

	assert.Equal(t, "'0001'", wireKey(stringKey, map[string]interface{}{"ID": "0001"}, "0001"))
	assert.Equal(t, "42", wireKey(intKey, map[string]interface{}{"Seq": float64(42)}, "42"))
	assert.Equal(t, "OrderID='500',ItemNo='10'", wireKey(composite, nil, "OrderID='500',ItemNo='10'"))

	// Without a declared type the supplied value decides.
	assert.Equal(t, "'7'", wireKey(untyped, map[string]interface{}{"ID": "7"}, "7"))
	assert.Equal(t, "7", wireKey(untyped, map[string]interface{}{"ID": float64(7)}, "7"))
}

func TestFormatKeyValue(t *testing.T) {
	assert.Equal(t, "abc", formatKeyValue("abc"))
	assert.Equal(t, "42", formatKeyValue(float64(42)))
	assert.Equal(t, "4.5", formatKeyValue(4.5))
	assert.Equal(t, "true", formatKeyValue(true))
}
