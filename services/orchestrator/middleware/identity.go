// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the chat service.
//
// # Identity Flow
//
// Every request is resolved to exactly one Identity before it reaches a
// handler:
//
//	Authorization: Bearer <token>  ->  authenticated user (via TokenResolver)
//	X-Session-ID: <id>             ->  guest session
//	neither                        ->  fresh guest session, id echoed back
//
// Credential verification itself is out of scope here: tokens are assumed
// verified upstream, and the TokenResolver only maps them to user ids. An
// unresolvable token is still rejected, so a typo never falls through to a
// guest identity with a different quota.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// SessionHeader carries the guest session id, on requests and on the
// response that minted one.
const SessionHeader = "X-Session-ID"

// identityKey is the gin context key for the resolved identity.
const identityKey = "mashura_identity"

// TokenResolver maps a bearer token to a user id.
type TokenResolver interface {
	Resolve(token string) (userID string, ok bool)
}

// StaticTokenResolver resolves tokens from a fixed map, typically loaded
// from configuration. The zero value resolves nothing.
type StaticTokenResolver map[string]string

// Resolve implements TokenResolver.
func (r StaticTokenResolver) Resolve(token string) (string, bool) {
	userID, ok := r[token]
	return userID, ok
}

// SetIdentity stores the resolved identity in the gin context.
func SetIdentity(c *gin.Context, identity datatypes.Identity) {
	c.Set(identityKey, identity)
}

// GetIdentity retrieves the resolved identity. The second return is false
// when the identity middleware did not run.
func GetIdentity(c *gin.Context) (datatypes.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return datatypes.Identity{}, false
	}
	identity, ok := v.(datatypes.Identity)
	return identity, ok
}

// Identity resolves the caller of every request and aborts with 401 only
// when a bearer token is present but unknown.
func Identity(resolver TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			userID, ok := resolver.Resolve(token)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized,
					datatypes.ErrorResponse{Message: "invalid credentials"})
				return
			}
			SetIdentity(c, datatypes.Identity{Kind: datatypes.IdentityUser, ID: userID})
			c.Next()
			return
		}

		sessionID := c.GetHeader(SessionHeader)
		if sessionID == "" {
			sessionID = uuid.NewString()
			c.Header(SessionHeader, sessionID)
		}
		SetIdentity(c, datatypes.Identity{Kind: datatypes.IdentityGuest, ID: sessionID})
		c.Next()
	}
}
