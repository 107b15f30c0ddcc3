// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianTenancy/pkg/extensions"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/handlers"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/middleware"
)

// Services are the backends the API fronts.
type Services struct {
	Tenants   handlers.TenantService
	Audit     handlers.AuditService
	Retention handlers.RetentionService
	Anomalies handlers.AnomalyService
	Erasure   handlers.ErasureService
	Exports   handlers.ExportService
	Halt      handlers.HaltService

	// Health checks keyed by dependency name. May be empty.
	Health map[string]handlers.HealthCheck

	// Gatherer backs /metrics. Nil uses the default registry.
	Gatherer prometheus.Gatherer
}

// SetupRoutes registers /healthz, /metrics and the /v1 API.
func SetupRoutes(router *gin.Engine, svc Services, opts extensions.ServiceOptions) {
	router.GET("/healthz", handlers.Health(svc.Health))

	gatherer := svc.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	authz := opts.AuthzProvider
	can := func(action string) gin.HandlerFunc {
		return middleware.RequireAction(authz, action)
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		tenants := v1.Group("/tenants")
		{
			tenants.POST("", can("tenant.create"), handlers.CreateTenant(svc.Tenants))
			tenants.GET("", can("tenant.list"), handlers.ListTenants(svc.Tenants))
			tenants.GET("/:id", can("tenant.get"), handlers.GetTenant(svc.Tenants))
			tenants.POST("/:id/provision", can("tenant.provision"), handlers.ProvisionTenant(svc.Tenants))
			tenants.POST("/:id/transition", can("tenant.transition"), handlers.TransitionTenant(svc.Tenants))

			tenants.GET("/:id/retention", can("retention.get"), handlers.GetRetention(svc.Tenants, svc.Retention))
			tenants.PUT("/:id/retention", can("retention.set"), handlers.SetRetention(svc.Tenants, svc.Retention))

			tenants.GET("/:id/anomalies", can("anomaly.scan"), handlers.GetAnomalies(svc.Tenants, svc.Anomalies))

			tenants.POST("/:id/erasure", can("erasure.run"), handlers.StartErasure(svc.Tenants, svc.Erasure))
			tenants.GET("/:id/erasure", can("erasure.status"), handlers.GetErasure(svc.Erasure))

			tenants.POST("/:id/exports", can("export.request"), handlers.StartExport(svc.Exports))
			tenants.GET("/:id/exports", can("export.status"), handlers.ListExports(svc.Exports))
			tenants.GET("/:id/exports/:job_id", can("export.status"), handlers.GetExport(svc.Exports))
		}

		auditGroup := v1.Group("/audit")
		{
			auditGroup.GET("", can("audit.query"), handlers.QueryAudit(svc.Audit))
			auditGroup.GET("/verify", can("audit.verify"), handlers.VerifyAudit(svc.Audit))
			auditGroup.GET("/halt", can("audit.verify"), handlers.GetHalt(svc.Halt))
			auditGroup.POST("/halt/clear", can("audit.halt_clear"), handlers.ClearHalt(svc.Halt))
		}
	}
}
