package destination

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zmcp/odata-registry/internal/models"
)

// Endpoint is a resolved (url, credential) pair used to reach a remote
// data service. Username/Password carry the technical credential; Token,
// when set, carries an end-user bearer token that takes precedence.
type Endpoint struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"-"`
}

// CredentialMode selects between the technical service account and an
// authenticated end user when querying a managed destination service.
type CredentialMode int

const (
	// ModeTechnical resolves with the service-bound credential.
	ModeTechnical CredentialMode = iota
	// ModeUser resolves on behalf of an end user whose token is supplied
	// with the lookup.
	ModeUser
)

// Provider is the managed destination-service lookup. Implementations
// return (nil, nil) when the destination is simply absent.
type Provider interface {
	Resolve(ctx context.Context, name string, mode CredentialMode, userToken string) (*Endpoint, error)
}

// Resolver decides, per call, which endpoint and credential to use for a
// named destination. It holds no mutable per-user state: the end-user
// token travels as an argument on every execution-role resolution.
type Resolver struct {
	endpoints []Endpoint
	provider  Provider
}

// NewResolver creates a resolver over an optional environment-supplied
// endpoint list and an optional managed destination provider.
func NewResolver(endpoints []Endpoint, provider Provider) *Resolver {
	return &Resolver{endpoints: endpoints, provider: provider}
}

// ParseEndpoints decodes the environment-supplied endpoint list, a JSON
// array of {name, url, username, password} objects.
func ParseEndpoints(raw string) ([]Endpoint, error) {
	if raw == "" {
		return nil, nil
	}
	var eps []Endpoint
	if err := json.Unmarshal([]byte(raw), &eps); err != nil {
		return nil, fmt.Errorf("failed to parse destination list: %w", err)
	}
	for i, ep := range eps {
		if ep.URL == "" {
			return nil, fmt.Errorf("destination entry %d (%q) has no url", i, ep.Name)
		}
	}
	return eps, nil
}

// ForDiscovery resolves the discovery-role destination. Discovery always
// acts as the technical user, independent of any end-user token.
func (r *Resolver) ForDiscovery(ctx context.Context, name string) (*Endpoint, error) {
	return r.resolve(ctx, name, ModeTechnical, "")
}

// ForExecution resolves the execution-role destination. A non-empty
// userToken makes the call act as that end user; an empty token falls back
// to the technical credential.
func (r *Resolver) ForExecution(ctx context.Context, name, userToken string) (*Endpoint, error) {
	if userToken == "" {
		return r.resolve(ctx, name, ModeTechnical, "")
	}
	return r.resolve(ctx, name, ModeUser, userToken)
}

func (r *Resolver) resolve(ctx context.Context, name string, mode CredentialMode, userToken string) (*Endpoint, error) {
	// Explicitly configured endpoints win. Exact name match first; a
	// single configured endpoint serves any name as a convenience.
	for i := range r.endpoints {
		if r.endpoints[i].Name == name {
			return cloneWithToken(&r.endpoints[i], mode, userToken), nil
		}
	}
	if len(r.endpoints) == 1 {
		return cloneWithToken(&r.endpoints[0], mode, userToken), nil
	}

	if r.provider != nil {
		ep, err := r.provider.Resolve(ctx, name, mode, userToken)
		if err != nil {
			return nil, fmt.Errorf("destination service lookup for %q failed: %w", name, err)
		}
		if ep != nil {
			return ep, nil
		}
	}

	return nil, &models.DestinationError{Name: name}
}

// cloneWithToken copies a configured endpoint so callers never share or
// mutate resolver state, attaching the end-user token in user mode.
func cloneWithToken(ep *Endpoint, mode CredentialMode, userToken string) *Endpoint {
	out := *ep
	if mode == ModeUser {
		out.Token = userToken
	}
	return &out
}
