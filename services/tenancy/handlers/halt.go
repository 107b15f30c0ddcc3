// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/audit"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/middleware"
)

// HaltService exposes the audit chain's integrity latch.
type HaltService interface {
	HaltState() audit.HaltState
	ClearHalt(ctx context.Context, actor, reason string) (audit.HaltState, error)
}

type clearHaltRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// GetHalt reports whether retention enforcement and erasure are halted by a
// broken audit chain.
func GetHalt(svc HaltService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.HaltState())
	}
}

// ClearHalt reopens the latch after the chain was investigated. The reason
// is recorded in the audit chain.
func ClearHalt(svc HaltService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req clearHaltRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		state, err := svc.ClearHalt(c.Request.Context(), middleware.Actor(c), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, state)
	}
}
