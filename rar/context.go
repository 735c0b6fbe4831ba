// Package rar implements the Resource-Action-Request context a predicate is
// evaluated against, and resolves the dotted attribute paths the interpreter's
// LoadField instruction consults at runtime.
package rar

import (
	"fmt"
	"strings"
	"time"

	"ipe/value"
)

// Principal identifies the caller making the request.
type Principal struct {
	ID         string
	Roles      []string
	Attributes map[string]value.Value
}

// Resource is the thing a predicate's triggers and requirements are
// evaluated against.
type Resource struct {
	TypeID     string
	Attributes map[string]value.Value
}

// Action describes the operation the principal is attempting against the
// resource.
type Action struct {
	Operation  string
	Target     string
	Attributes map[string]value.Value
}

// Request carries the principal plus request-scoped attributes.
type Request struct {
	Principal  Principal
	Timestamp  time.Time
	SourceIP   *string
	Attributes map[string]value.Value
}

// EvaluationContext is the per-call RAR tuple the engine evaluates a
// predicate against. The engine does not retain a reference beyond the
// call that produced it.
type EvaluationContext struct {
	Resource Resource
	Action   Action
	Request  Request
}

// MissingAttributeError reports a path that resolved to a known root but an
// attribute the context doesn't carry.
type MissingAttributeError struct {
	Path []string
}

func (e *MissingAttributeError) Error() string {
	return fmt.Sprintf("MissingAttribute: %s", strings.Join(e.Path, "."))
}

// UnsupportedAttributeError reports an attribute whose dynamic type has no
// value.Value variant.
type UnsupportedAttributeError struct {
	Path []string
	Type string
}

func (e *UnsupportedAttributeError) Error() string {
	return fmt.Sprintf("UnsupportedAttribute: %s has unsupported type %s", strings.Join(e.Path, "."), e.Type)
}

// Resolve looks up path against c. The first segment chooses a root
// ("resource", "request", "action", or "principal" as an alias for
// "request.principal"); remaining segments index into that root's named
// attribute map, with a handful of well-known fields (resource.type,
// request.principal.id, request.principal.roles, action.operation,
// action.target, request.timestamp, request.source_ip) resolved directly
// rather than through the attribute map.
func (c *EvaluationContext) Resolve(path []string) (value.Value, error) {
	if len(path) == 0 {
		return value.Value{}, &MissingAttributeError{Path: path}
	}

	root, rest := path[0], path[1:]
	switch root {
	case "resource":
		return resolveResource(c.Resource, path, rest)
	case "action":
		return resolveAction(c.Action, path, rest)
	case "request":
		return resolveRequest(c.Request, path, rest)
	case "principal":
		return resolveRequest(c.Request, path, append([]string{"principal"}, rest...))
	default:
		return value.Value{}, &MissingAttributeError{Path: path}
	}
}

func resolveResource(r Resource, full, rest []string) (value.Value, error) {
	if len(rest) == 0 {
		return value.Value{}, &MissingAttributeError{Path: full}
	}
	if rest[0] == "type" && len(rest) == 1 {
		return value.String(r.TypeID), nil
	}
	return lookupAttribute(r.Attributes, full, rest)
}

func resolveAction(a Action, full, rest []string) (value.Value, error) {
	if len(rest) == 0 {
		return value.Value{}, &MissingAttributeError{Path: full}
	}
	switch {
	case rest[0] == "operation" && len(rest) == 1:
		return value.String(a.Operation), nil
	case rest[0] == "target" && len(rest) == 1:
		return value.String(a.Target), nil
	}
	return lookupAttribute(a.Attributes, full, rest)
}

func resolveRequest(r Request, full, rest []string) (value.Value, error) {
	if len(rest) == 0 {
		return value.Value{}, &MissingAttributeError{Path: full}
	}

	switch rest[0] {
	case "principal":
		sub := rest[1:]
		if len(sub) == 0 {
			return value.Value{}, &MissingAttributeError{Path: full}
		}
		switch {
		case sub[0] == "id" && len(sub) == 1:
			return value.String(r.Principal.ID), nil
		case sub[0] == "roles" && len(sub) == 1:
			roles := make([]value.Value, len(r.Principal.Roles))
			for i, role := range r.Principal.Roles {
				roles[i] = value.String(role)
			}
			return value.Array(roles), nil
		}
		return lookupAttribute(r.Principal.Attributes, full, sub)
	case "timestamp":
		if len(rest) == 1 {
			return value.Int(r.Timestamp.Unix()), nil
		}
	case "source_ip":
		if len(rest) == 1 {
			if r.SourceIP == nil {
				return value.Value{}, &MissingAttributeError{Path: full}
			}
			return value.String(*r.SourceIP), nil
		}
	}
	return lookupAttribute(r.Attributes, full, rest)
}

func lookupAttribute(attrs map[string]value.Value, full, rest []string) (value.Value, error) {
	key := strings.Join(rest, ".")
	v, ok := attrs[key]
	if !ok {
		return value.Value{}, &MissingAttributeError{Path: full}
	}
	return v, nil
}
