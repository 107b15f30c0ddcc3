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

// ExportService runs data-portability exports.
type ExportService interface {
	Start(ctx context.Context, tenantID, requestedBy string) (datatypes.ExportJob, error)
	Export(ctx context.Context, tenantID, requestedBy string) (datatypes.ExportJob, error)
	Get(ctx context.Context, tenantID, jobID string) (datatypes.ExportJob, error)
	List(ctx context.Context, tenantID string) ([]datatypes.ExportJob, error)
}

// StartExport queues an export of the tenant's data and answers 202 with
// the job. With ?wait=true it answers once the export has finished. A
// tenant with an export already pending gets that job back.
func StartExport(svc ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tenantID := c.Param("id")
		requestedBy := middleware.Actor(c)

		if c.Query("wait") == "true" {
			job, err := svc.Export(ctx, tenantID, requestedBy)
			if err != nil && job.JobID == "" {
				respondError(c, err)
				return
			}
			// A failed export is reported through the job.
			c.JSON(http.StatusOK, job)
			return
		}

		job, err := svc.Start(ctx, tenantID, requestedBy)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, job)
	}
}

func ListExports(svc ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobs, err := svc.List(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"exports": jobs, "count": len(jobs)})
	}
}

func GetExport(svc ExportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.Get(c.Request.Context(), c.Param("id"), c.Param("job_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
