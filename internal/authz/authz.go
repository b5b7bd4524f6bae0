// Package authz holds the one place where callers are checked against what a
// procedure needs: being signed in, owning a record, or holding an admin
// capability.
package authz

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("forbidden")
)

// Identity is the caller as resolved by the auth middleware. The zero value is
// an anonymous caller.
type Identity struct {
	UserID string
	Token  string
	Admin  bool
}

func (id Identity) Authenticated() bool {
	return id.UserID != ""
}

type kind int

const (
	kindAuthenticated kind = iota + 1
	kindOwner
	kindAdminPrompts
	kindAdminCollections
)

// Capability is something a caller must hold for a procedure to proceed.
type Capability struct {
	kind    kind
	ownerID string
}

var (
	Authenticated    = Capability{kind: kindAuthenticated}
	AdminPrompts     = Capability{kind: kindAdminPrompts}
	AdminCollections = Capability{kind: kindAdminCollections}
)

// Owner is held by the caller whose id equals ownerID. Admins do not hold it
// implicitly; admin paths ask for AdminPrompts or AdminCollections instead.
func Owner(ownerID string) Capability {
	return Capability{kind: kindOwner, ownerID: ownerID}
}

func (c Capability) String() string {
	switch c.kind {
	case kindAuthenticated:
		return "authenticated"
	case kindOwner:
		return "owner(" + c.ownerID + ")"
	case kindAdminPrompts:
		return "admin:prompts"
	case kindAdminCollections:
		return "admin:collections"
	}
	return "unknown"
}

// Decision is the outcome of Check: either Authorized or Forbidden with a reason.
type Decision struct {
	Authorized bool
	// Unauthenticated marks a refusal caused by a missing identity.
	Unauthenticated bool
	Reason          string
}

func allow() Decision { return Decision{Authorized: true} }

func forbid(reason string) Decision { return Decision{Reason: reason} }

// Err converts a refusal to an error; nil when authorized.
func (d Decision) Err() error {
	switch {
	case d.Authorized:
		return nil
	case d.Unauthenticated:
		return ErrUnauthenticated
	default:
		return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
	}
}

func Check(id Identity, c Capability) Decision {
	if !id.Authenticated() {
		return Decision{Unauthenticated: true, Reason: "sign in required"}
	}
	switch c.kind {
	case kindAuthenticated:
		return allow()
	case kindOwner:
		if c.ownerID != "" && c.ownerID == id.UserID {
			return allow()
		}
		return forbid("not the owner of this record")
	case kindAdminPrompts, kindAdminCollections:
		if id.Admin {
			return allow()
		}
		return forbid("admin role required")
	}
	return forbid("unknown capability")
}

// Require is Check followed by Decision.Err.
func Require(id Identity, c Capability) error {
	return Check(id, c).Err()
}
