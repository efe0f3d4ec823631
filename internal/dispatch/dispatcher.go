// Copyright (c) 2025 OData Registry Contributors
// SPDX-License-Identifier: MIT

package dispatch

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/zmcp/odata-registry/internal/catalog"
	"github.com/zmcp/odata-registry/internal/constants"
	"github.com/zmcp/odata-registry/internal/destination"
	"github.com/zmcp/odata-registry/internal/models"
)

// Operation is one of the closed set of CRUD operations the dispatcher
// accepts. Anything else fails validation at the boundary.
type Operation string

const (
	OpRead       Operation = "read"
	OpReadSingle Operation = "read-single"
	OpCreate     Operation = "create"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
)

// Operations lists the valid operations for error messages.
var Operations = []Operation{OpRead, OpReadSingle, OpCreate, OpUpdate, OpDelete}

// ParseOperation validates a caller-supplied operation string.
func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Operations {
		if op == known {
			return op, nil
		}
	}
	names := make([]string, len(Operations))
	for i, o := range Operations {
		names[i] = string(o)
	}
	return "", &models.ValidationError{
		Message: fmt.Sprintf("unknown operation %q. Valid operations: %s", s, strings.Join(names, ", ")),
	}
}

// EntityClient performs the actual wire calls against a remote OData
// service. Implementations do not retry; a failure propagates immediately.
type EntityClient interface {
	Read(ctx context.Context, ep *destination.Endpoint, entitySet string, options map[string]string) (interface{}, error)
	ReadOne(ctx context.Context, ep *destination.Endpoint, entitySet, key string, options map[string]string) (interface{}, error)
	Create(ctx context.Context, ep *destination.Endpoint, entitySet string, payload map[string]interface{}) (interface{}, error)
	Update(ctx context.Context, ep *destination.Endpoint, entitySet, key string, payload map[string]interface{}) (interface{}, error)
	Delete(ctx context.Context, ep *destination.Endpoint, entitySet, key string) error
}

// Request describes one CRUD operation against one entity. The end-user
// token is a per-call field rather than dispatcher state, so concurrent
// calls for different users cannot race on a shared credential.
type Request struct {
	ServiceID  string                 `json:"service_id"`
	EntityName string                 `json:"entity_name"`
	Operation  string                 `json:"operation"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`

	// Discrete query options, mapped one-to-one onto protocol parameters.
	Filter  string `json:"filter,omitempty"`
	Select  string `json:"select,omitempty"`
	Expand  string `json:"expand,omitempty"`
	OrderBy string `json:"orderby,omitempty"`
	Top     *int   `json:"top,omitempty"`
	Skip    *int   `json:"skip,omitempty"`

	// QueryOptions is the legacy nested options object. Its entries merge
	// in after the discrete fields and overwrite same-named values; kept
	// for backward compatibility.
	QueryOptions map[string]string `json:"query_options,omitempty"`

	// UseUserToken opts out of end-user credentials when explicitly false.
	UseUserToken *bool  `json:"use_user_token,omitempty"`
	UserToken    string `json:"-"`
}

// Response is the structured, never-thrown outcome of a dispatch.
type Response struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Dispatcher validates and executes CRUD operations against cataloged
// entities, resolving a destination per call and forwarding to the entity
// client.
type Dispatcher struct {
	cat             *catalog.Catalog
	resolver        *destination.Resolver
	client          EntityClient
	destinationName string
	readOnly        bool
	verbose         bool
}

// New creates a dispatcher. destinationName is the named destination every
// execution resolves against.
func New(cat *catalog.Catalog, resolver *destination.Resolver, client EntityClient, destinationName string, readOnly, verbose bool) *Dispatcher {
	return &Dispatcher{
		cat:             cat,
		resolver:        resolver,
		client:          client,
		destinationName: destinationName,
		readOnly:        readOnly,
		verbose:         verbose,
	}
}

// Execute runs one operation. It never returns a Go error: every failure
// is folded into the structured response with a human-readable diagnostic.
func (d *Dispatcher) Execute(ctx context.Context, req *Request) *Response {
	result, err := d.execute(ctx, req)
	if err != nil {
		if d.verbose {
			fmt.Fprintf(os.Stderr, "[VERBOSE] %s %s/%s failed: %v\n", req.Operation, req.ServiceID, req.EntityName, err)
		}
		return &Response{Success: false, Error: err.Error()}
	}
	return &Response{Success: true, Result: result}
}

func (d *Dispatcher) execute(ctx context.Context, req *Request) (interface{}, error) {
	op, err := ParseOperation(req.Operation)
	if err != nil {
		return nil, err
	}

	svc := d.cat.Find(req.ServiceID)
	if svc == nil {
		return nil, &models.NotFoundError{
			Kind:       "service",
			Name:       req.ServiceID,
			Suggestion: d.cat.SuggestByTitle(req.ServiceID),
		}
	}

	entity := svc.EntityType(req.EntityName)
	if entity == nil {
		return nil, &models.NotFoundError{
			Kind:       "entity",
			Name:       req.EntityName,
			Suggestion: suggestEntity(svc, req.EntityName),
			Valid:      svc.EntityNames(),
		}
	}

	if isModifying(op) {
		if d.readOnly {
			return nil, &models.ValidationError{
				Message: fmt.Sprintf("operation %q rejected: the registry is running in read-only mode", op),
			}
		}
		if err := checkCapability(op, entity); err != nil {
			return nil, err
		}
	}

	ep, err := d.resolveEndpoint(ctx, req)
	if err != nil {
		return nil, err
	}

	options := buildQueryOptions(req)

	switch op {
	case OpRead:
		data, err := d.client.Read(ctx, ep, entity.EntitySet, options)
		if err != nil {
			return nil, &models.UpstreamError{Err: err}
		}
		return data, nil

	case OpReadSingle:
		key, err := buildKeyValue(entity, req.Parameters)
		if err != nil {
			return nil, err
		}
		data, err := d.client.ReadOne(ctx, ep, entity.EntitySet, wireKey(entity, req.Parameters, key), options)
		if err != nil {
			return nil, &models.UpstreamError{Err: err}
		}
		return data, nil

	case OpCreate:
		data, err := d.client.Create(ctx, ep, entity.EntitySet, dataParameters(entity, req.Parameters, false))
		if err != nil {
			return nil, &models.UpstreamError{Err: err}
		}
		return data, nil

	case OpUpdate:
		key, err := buildKeyValue(entity, req.Parameters)
		if err != nil {
			return nil, err
		}
		// Key fields identify the entity; they are never sent as data.
		payload := dataParameters(entity, req.Parameters, true)
		data, err := d.client.Update(ctx, ep, entity.EntitySet, wireKey(entity, req.Parameters, key), payload)
		if err != nil {
			return nil, &models.UpstreamError{Err: err}
		}
		return data, nil

	case OpDelete:
		key, err := buildKeyValue(entity, req.Parameters)
		if err != nil {
			return nil, err
		}
		if err := d.client.Delete(ctx, ep, entity.EntitySet, wireKey(entity, req.Parameters, key)); err != nil {
			return nil, &models.UpstreamError{Err: err}
		}
		// The remote returns no body on delete; synthesize the ack.
		return map[string]interface{}{
			"status":     "deleted",
			"entity_set": entity.EntitySet,
			"key":        key,
		}, nil
	}

	return nil, &models.ValidationError{Message: fmt.Sprintf("unhandled operation %q", op)}
}

func (d *Dispatcher) resolveEndpoint(ctx context.Context, req *Request) (*destination.Endpoint, error) {
	token := req.UserToken
	if req.UseUserToken != nil && !*req.UseUserToken {
		token = ""
	}
	return d.resolver.ForExecution(ctx, d.destinationName, token)
}

func isModifying(op Operation) bool {
	return op == OpCreate || op == OpUpdate || op == OpDelete
}

// checkCapability gates modifying operations on the entity's metadata
// flags before any network call is attempted.
func checkCapability(op Operation, entity *models.EntityType) error {
	allowed := true
	switch op {
	case OpCreate:
		allowed = entity.Creatable
	case OpUpdate:
		allowed = entity.Updatable
	case OpDelete:
		allowed = entity.Deletable
	}
	if !allowed {
		return &models.CapabilityError{Operation: string(op), Entity: entity.Name}
	}
	return nil
}

// buildQueryOptions maps the discrete fields onto protocol query options,
// then merges the legacy nested object on top. Legacy entries overwrite
// same-named discrete values; this precedence is intentional and preserved
// for backward compatibility.
func buildQueryOptions(req *Request) map[string]string {
	options := make(map[string]string)
	if req.Filter != "" {
		options[constants.QueryFilter] = req.Filter
	}
	if req.Select != "" {
		options[constants.QuerySelect] = req.Select
	}
	if req.Expand != "" {
		options[constants.QueryExpand] = req.Expand
	}
	if req.OrderBy != "" {
		options[constants.QueryOrderBy] = req.OrderBy
	}
	if req.Top != nil {
		options[constants.QueryTop] = strconv.Itoa(*req.Top)
	}
	if req.Skip != nil {
		options[constants.QuerySkip] = strconv.Itoa(*req.Skip)
	}
	for k, v := range req.QueryOptions {
		options[k] = v
	}
	return options
}

// buildKeyValue renders the entity key from the supplied parameters using
// the declared key properties in declared order. A single key yields the
// raw stringified value; a composite key yields name='value' pairs joined
// with commas.
func buildKeyValue(entity *models.EntityType, params map[string]interface{}) (string, error) {
	if len(entity.Keys) == 0 {
		return "", &models.ValidationError{Message: fmt.Sprintf("entity %q declares no key properties", entity.Name)}
	}

	if len(entity.Keys) == 1 {
		name := entity.Keys[0]
		v, ok := params[name]
		if !ok {
			return "", &models.KeyError{Entity: entity.Name, Missing: name, Required: entity.Keys}
		}
		return formatKeyValue(v), nil
	}

	parts := make([]string, 0, len(entity.Keys))
	for _, name := range entity.Keys {
		v, ok := params[name]
		if !ok {
			return "", &models.KeyError{Entity: entity.Name, Missing: name, Required: entity.Keys}
		}
		parts = append(parts, fmt.Sprintf("%s='%s'", name, formatKeyValue(v)))
	}
	return strings.Join(parts, ","), nil
}

// unquotedEdmTypes are the Edm primitives whose key literals render
// without quotes in a URL predicate. Everything else is quoted; above all
// Edm.String, where SAP's zero-padded ids look numeric but are not.
var unquotedEdmTypes = map[string]bool{
	"Edm.Byte":    true,
	"Edm.SByte":   true,
	"Edm.Int16":   true,
	"Edm.Int32":   true,
	"Edm.Int64":   true,
	"Edm.Single":  true,
	"Edm.Double":  true,
	"Edm.Decimal": true,
	"Edm.Boolean": true,
}

// wireKey renders the buildKeyValue output for the URL path. Single keys
// get quoted according to the property's declared Edm type; composite keys
// arrive already rendered. The raw key stays in diagnostics and the delete
// ack, but a string-typed value must never travel unquoted.
func wireKey(entity *models.EntityType, params map[string]interface{}, key string) string {
	if len(entity.Keys) != 1 {
		return key
	}
	name := entity.Keys[0]
	if p := entity.Property(name); p != nil && p.Type != "" {
		if unquotedEdmTypes[p.Type] {
			return key
		}
		return "'" + key + "'"
	}
	// No declared type in the catalog; fall back to the supplied value's
	// JSON type.
	switch params[name].(type) {
	case float64, bool:
		return key
	}
	return "'" + key + "'"
}

// formatKeyValue stringifies a key value. JSON numbers arrive as float64;
// integral values must not render with a fractional part.
func formatKeyValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// dataParameters extracts the entity payload from the supplied parameters,
// dropping system options ($-prefixed) and, for updates, the declared key
// properties.
func dataParameters(entity *models.EntityType, params map[string]interface{}, stripKeys bool) map[string]interface{} {
	payload := make(map[string]interface{})
	for k, v := range params {
		if strings.HasPrefix(k, "$") {
			continue
		}
		if stripKeys && entity.IsKey(k) {
			continue
		}
		payload[k] = v
	}
	return payload
}

// suggestEntity produces a corrective hint when the entity name differs
// only in case or matches an entity set name.
func suggestEntity(svc *models.Service, name string) string {
	for _, et := range svc.EntityTypes {
		if strings.EqualFold(et.Name, name) || strings.EqualFold(et.EntitySet, name) {
			return et.Name
		}
	}
	return ""
}
