// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

func identityRouter(resolver TokenResolver) (*gin.Engine, *datatypes.Identity) {
	gin.SetMode(gin.TestMode)
	captured := &datatypes.Identity{}
	r := gin.New()
	r.Use(Identity(resolver))
	r.GET("/probe", func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		*captured = id
		c.Status(http.StatusOK)
	})
	return r, captured
}

// TestIdentity_BearerResolvesToUser verifies a known token yields an
// authenticated user identity.
func TestIdentity_BearerResolvesToUser(t *testing.T) {
	r, captured := identityRouter(StaticTokenResolver{"tok-1": "user-42"})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.Identity{Kind: datatypes.IdentityUser, ID: "user-42"}, *captured)
}

// TestIdentity_UnknownBearerRejected verifies an unknown token is a 401,
// never a guest fallback.
func TestIdentity_UnknownBearerRejected(t *testing.T) {
	r, _ := identityRouter(StaticTokenResolver{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("Authorization", "Bearer nope")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid credentials")
}

// TestIdentity_SessionHeaderYieldsGuest verifies the session header is
// honored as the guest id.
func TestIdentity_SessionHeaderYieldsGuest(t *testing.T) {
	r, captured := identityRouter(StaticTokenResolver{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set(SessionHeader, "sess-7")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.Identity{Kind: datatypes.IdentityGuest, ID: "sess-7"}, *captured)
}

// TestIdentity_MintsGuestSession verifies a bare request gets a fresh guest
// session echoed back in the response header.
func TestIdentity_MintsGuestSession(t *testing.T) {
	r, captured := identityRouter(StaticTokenResolver{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	minted := w.Header().Get(SessionHeader)
	require.NotEmpty(t, minted)
	assert.Equal(t, datatypes.Identity{Kind: datatypes.IdentityGuest, ID: minted}, *captured)
}
