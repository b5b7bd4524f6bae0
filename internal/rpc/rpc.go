// Package rpc exposes the services as named procedures over HTTP:
// GET /api/rpc/<name>?input=<json> for queries and POST with a JSON body for
// mutations.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"promptory/internal/authz"
	"promptory/internal/services"
)

type Kind int

const (
	Query Kind = iota + 1
	Mutation
)

func (k Kind) String() string {
	if k == Mutation {
		return "mutation"
	}
	return "query"
}

// Call is one invocation of a procedure.
type Call struct {
	Ctx   context.Context
	Who   authz.Identity
	input json.RawMessage
}

// Bind decodes the call input into dst. A missing input leaves dst untouched.
func (c *Call) Bind(dst interface{}) error {
	if len(c.input) == 0 || string(c.input) == "null" {
		return nil
	}
	if err := json.Unmarshal(c.input, dst); err != nil {
		return &services.ValidationError{Message: "malformed input: " + err.Error()}
	}
	return nil
}

type Procedure struct {
	Name string
	Kind Kind
	// Require is checked before Handle runs. Ownership checks that need the
	// stored record happen inside the services.
	Require *authz.Capability
	// Tables a query reads from, or a mutation writes to. Query results are
	// cached under these tables; a successful mutation invalidates them.
	Tables []string
	// NoCache marks queries with side effects or per-request data.
	NoCache bool
	Handle  func(c *Call) (interface{}, error)
}

func (p Procedure) cacheable() bool {
	return p.Kind == Query && !p.NoCache && len(p.Tables) > 0
}

// Error codes on the wire.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotSupported = "METHOD_NOT_SUPPORTED"
	CodeConflict           = "CONFLICT"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

var statusByCode = map[string]int{
	CodeBadRequest:         http.StatusBadRequest,
	CodeUnauthorized:       http.StatusUnauthorized,
	CodeForbidden:          http.StatusForbidden,
	CodeNotFound:           http.StatusNotFound,
	CodeMethodNotSupported: http.StatusMethodNotAllowed,
	CodeConflict:           http.StatusConflict,
	CodeInternal:           http.StatusInternalServerError,
}

// Error is the error body of a failed call.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Status returns the HTTP status for the code.
func (e *Error) Status() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// toError maps a service error to its wire form. The bool reports whether the
// error is a backend failure whose detail must not reach the caller.
func toError(err error, kind Kind) (*Error, bool) {
	var (
		rpcErr *Error
		verr   *services.ValidationError
	)
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr, false
	case errors.As(err, &verr):
		return &Error{Code: CodeBadRequest, Message: verr.Error()}, false
	case errors.Is(err, authz.ErrUnauthenticated), errors.Is(err, services.ErrInvalidCredentials):
		return &Error{Code: CodeUnauthorized, Message: err.Error()}, false
	case errors.Is(err, authz.ErrForbidden):
		return &Error{Code: CodeForbidden, Message: err.Error()}, false
	case errors.Is(err, services.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}, false
	case errors.Is(err, services.ErrCollectionFull), errors.Is(err, services.ErrEmailTaken):
		return &Error{Code: CodeConflict, Message: err.Error()}, false
	}
	msg := "failed to load"
	if kind == Mutation {
		msg = "failed to save"
	}
	return &Error{Code: CodeInternal, Message: msg}, true
}

// Registry holds procedures by name.
type Registry struct {
	procs map[string]Procedure
}

func NewRegistry(procs ...Procedure) *Registry {
	r := &Registry{procs: map[string]Procedure{}}
	r.Register(procs...)
	return r
}

// Register adds procedures, replacing any with the same name.
func (r *Registry) Register(procs ...Procedure) {
	for _, p := range procs {
		r.procs[p.Name] = p
	}
}

func (r *Registry) Lookup(name string) (Procedure, bool) {
	p, ok := r.procs[name]
	return p, ok
}

func (r *Registry) Len() int {
	return len(r.procs)
}
