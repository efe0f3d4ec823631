package models

import (
	"fmt"
	"strings"
)

// ValidationError reports structurally invalid input: an unknown operation
// or category, or a malformed limit. Produced before any lookup or network
// activity.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NotFoundError reports an unknown service or entity. Suggestion carries a
// corrective hint when the caller likely used a title instead of an id;
// Valid lists the acceptable names when that helps.
type NotFoundError struct {
	Kind       string // "service" or "entity"
	Name       string
	Suggestion string
	Valid      []string
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("%s not found: %q", e.Kind, e.Name)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" (did you mean %q? titles are not valid ids)", e.Suggestion)
	}
	if len(e.Valid) > 0 {
		msg += fmt.Sprintf(". Valid %s names: %s", e.Kind, strings.Join(e.Valid, ", "))
	}
	return msg
}

// CapabilityError reports an operation that the entity's metadata forbids.
// It is raised before any network call is attempted.
type CapabilityError struct {
	Operation string
	Entity    string
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("operation %q is not allowed on entity %q: the service metadata marks it as not %s-capable", e.Operation, e.Entity, e.Operation)
}

// KeyError reports a missing required key property. Required always names
// the full declared key set so the caller can fix a composite key in one go.
type KeyError struct {
	Entity   string
	Missing  string
	Required []string
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("missing required key property %q for entity %q (required keys: %s)", e.Missing, e.Entity, strings.Join(e.Required, ", "))
}

// DestinationError reports that no endpoint could be resolved for a
// destination name.
type DestinationError struct {
	Name string
}

func (e *DestinationError) Error() string {
	return fmt.Sprintf("destination %q could not be resolved: no configured endpoint and no destination service entry", e.Name)
}

// UpstreamError wraps a failure propagated from the remote entity client.
// The original message is passed through verbatim.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("remote service call failed: %s", e.Err.Error())
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
