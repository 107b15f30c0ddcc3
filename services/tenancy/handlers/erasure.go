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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/middleware"
)

// ErasureService runs and reports erasure jobs.
type ErasureService interface {
	RunFor(ctx context.Context, tenantID, requestedBy string) (datatypes.ErasureJob, error)
	Status(ctx context.Context, tenantID string) (datatypes.ErasureJob, error)
}

// StartErasure erases a tenant.
//
// # Description
//
// By default the job runs in the background and the handler answers 202;
// progress is read from GetErasure. With ?wait=true the handler blocks
// until the job finishes and answers with the job, or with the step error.
// The caller is recorded as the requester; pipeline audit entries carry the
// pipeline actor.
func StartErasure(tenants TenantService, svc ErasureService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID := c.Param("id")
		if _, err := tenants.Get(ctx, tenantID); err != nil {
			respondError(c, err)
			return
		}
		requestedBy := middleware.Actor(c)

		if c.Query("wait") == "true" {
			job, err := svc.RunFor(ctx, tenantID, requestedBy)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, job)
			return
		}

		// The job must outlive the request.
		bg := context.WithoutCancel(ctx)
		go func() {
			job, err := svc.RunFor(bg, tenantID, requestedBy)
			if err != nil {
				slog.Error("tenancy.erasure.background_failed",
					"tenant_id", tenantID,
					"last_completed_step", int(job.LastCompletedStep),
					"error", err,
				)
			}
		}()
		c.JSON(http.StatusAccepted, gin.H{
			"tenant_id":    tenantID,
			"status":       "accepted",
			"requested_by": requestedBy,
		})
	}
}

func GetErasure(svc ErasureService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
