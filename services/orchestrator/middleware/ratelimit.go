// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/mashura-ai/mashura/services/orchestrator/datatypes"
)

// rateLimitMaxEntries bounds the limiter map; once exceeded the map is
// dropped wholesale, which at worst briefly refills a few buckets.
const rateLimitMaxEntries = 100_000

// RateLimit applies a per-identity token bucket in front of the handlers.
//
// This is transport-level protection against bursts and scripts, distinct
// from the usage governor: the governor counts completed answers against a
// quota, while this limiter caps raw request frequency. Runs after Identity.
func RateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	return func(c *gin.Context) {
		identity, ok := GetIdentity(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				datatypes.ErrorResponse{Message: "identity not resolved"})
			return
		}

		mu.Lock()
		if len(limiters) > rateLimitMaxEntries {
			limiters = make(map[string]*rate.Limiter)
		}
		limiter, exists := limiters[identity.Key()]
		if !exists {
			limiter = rate.NewLimiter(r, burst)
			limiters[identity.Key()] = limiter
		}
		mu.Unlock()

		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				datatypes.ErrorResponse{Message: "too many requests"})
			return
		}
		c.Next()
	}
}
