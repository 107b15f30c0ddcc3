// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware holds the gin middleware of the tenancy API.
package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/pkg/extensions"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "aleutian_auth_info"

// SetAuthInfo stores the caller identity on the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller identity, or nil before AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// Actor returns the audit actor for the request: the authenticated user
// id, or "anonymous".
func Actor(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.UserID != "" {
		return info.UserID
	}
	return "anonymous"
}

// =============================================================================
// Middleware
// =============================================================================

// AuthMiddleware validates the bearer token with provider and stores the
// identity for handlers. Failures abort with 401.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			slog.Warn("tenancy.http.auth_failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// RequireAction checks that the caller may perform action on the tenant
// named by the ":id" path parameter. Denials abort with 403.
func RequireAction(provider extensions.AuthzProvider, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := provider.Authorize(c.Request.Context(), extensions.AuthzRequest{
			User:         GetAuthInfo(c),
			Action:       action,
			ResourceType: "tenant",
			ResourceID:   c.Param("id"),
		})
		if err != nil {
			status := http.StatusForbidden
			if errors.Is(err, extensions.ErrUnauthorized) {
				status = http.StatusUnauthorized
			}
			slog.Info("tenancy.http.denied", "action", action, "actor", Actor(c), "error", err)
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// RequestLogger logs one structured line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		slog.Log(c.Request.Context(), level, "tenancy.http.request",
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"actor", Actor(c),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
