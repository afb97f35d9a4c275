// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/mashura-ai/mashura/services/orchestrator/handlers"
	"github.com/mashura-ai/mashura/services/orchestrator/middleware"
)

// Options carries the wired handlers and the middleware knobs.
type Options struct {
	Chat          *handlers.ChatHandler
	Conversations *handlers.ConversationHandler
	Tokens        middleware.TokenResolver
	RequestsPerS  float64
	Burst         int
}

// SetupRoutes mounts every endpoint on the router. Health and metrics stay
// outside the identity and rate-limit chain.
func SetupRoutes(router *gin.Engine, opts Options) {
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.Use(middleware.Identity(opts.Tokens))
	v1.Use(middleware.RateLimit(rate.Limit(opts.RequestsPerS), opts.Burst))
	{
		v1.POST("/chat/stream", opts.Chat.Stream)
		v1.GET("/usage", opts.Conversations.Usage)

		conversations := v1.Group("/conversations")
		{
			conversations.GET("", opts.Conversations.List)
			conversations.GET("/:id/messages", opts.Conversations.Messages)
			conversations.DELETE("/:id", opts.Conversations.Delete)
		}
	}
}
