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

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/middleware"
)

// RetentionService resolves and versions retention policies.
type RetentionService interface {
	GetPolicy(ctx context.Context, tenantID string, category datatypes.DataCategory) (datatypes.RetentionPolicy, datatypes.PolicySource, error)
	SetPolicy(ctx context.Context, p datatypes.RetentionPolicy, actor string) (datatypes.RetentionPolicy, error)
	PolicyHistory(ctx context.Context, tenantID string, category datatypes.DataCategory) ([]datatypes.RetentionPolicy, error)
}

type setPolicyRequest struct {
	Category           datatypes.DataCategory `json:"category"`
	RetentionDays      int                    `json:"retention_days" binding:"required,gte=1,lte=36500"`
	GraceDays          int                    `json:"grace_days" binding:"gte=0,lte=3650"`
	HardDeleteEnforced bool                   `json:"hard_delete_enforced"`
}

// GetRetention returns the effective policy for ?category (empty for the
// tenant level) and the level it came from. ?history=true adds every
// stored version.
func GetRetention(tenants TenantService, svc RetentionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID := c.Param("id")
		category := datatypes.DataCategory(c.Query("category"))
		if !category.Valid() {
			badRequest(c, "unknown category "+string(category))
			return
		}
		if _, err := tenants.Get(ctx, tenantID); err != nil {
			respondError(c, err)
			return
		}

		policy, source, err := svc.GetPolicy(ctx, tenantID, category)
		if err != nil {
			respondError(c, err)
			return
		}
		body := gin.H{"policy": policy, "source": source}
		if c.Query("history") == "true" {
			history, err := svc.PolicyHistory(ctx, tenantID, category)
			if err != nil {
				respondError(c, err)
				return
			}
			body["history"] = history
		}
		c.JSON(http.StatusOK, body)
	}
}

// SetRetention stores a new policy version.
func SetRetention(tenants TenantService, svc RetentionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID := c.Param("id")

		var req setPolicyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid policy: "+err.Error())
			return
		}
		if !req.Category.Valid() {
			badRequest(c, "unknown category "+string(req.Category))
			return
		}
		if _, err := tenants.Get(ctx, tenantID); err != nil {
			respondError(c, err)
			return
		}

		stored, err := svc.SetPolicy(ctx, datatypes.RetentionPolicy{
			TenantID:           tenantID,
			Category:           req.Category,
			RetentionDays:      req.RetentionDays,
			GraceDays:          req.GraceDays,
			HardDeleteEnforced: req.HardDeleteEnforced,
		}, middleware.Actor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"policy": stored})
	}
}
