// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// IdentityKind distinguishes authenticated users from ephemeral guests.
type IdentityKind string

const (
	// IdentityUser is an authenticated account holder.
	IdentityUser IdentityKind = "user"

	// IdentityGuest is an unauthenticated, session-scoped caller.
	IdentityGuest IdentityKind = "guest"
)

// Identity is the resolved caller of a request. Immutable once resolved;
// every downstream decision (quota, storage, ownership) keys off it.
//
// # Fields
//
//   - Kind: user or guest.
//   - ID: user id for authenticated callers, session id for guests.
type Identity struct {
	Kind IdentityKind
	ID   string
}

// Key returns a stable storage key for the identity, namespaced by kind so
// a guest session id can never collide with a user id.
func (i Identity) Key() string {
	return fmt.Sprintf("%s:%s", i.Kind, i.ID)
}

// IsGuest reports whether the identity is an unauthenticated guest session.
func (i Identity) IsGuest() bool {
	return i.Kind == IdentityGuest
}
