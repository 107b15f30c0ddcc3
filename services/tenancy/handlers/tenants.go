// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the tenancy HTTP API as gin handler
// constructors closed over the services they call.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/lifecycle"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/middleware"
)

// TenantService is the lifecycle surface exposed over HTTP.
type TenantService interface {
	Create(ctx context.Context, slug, actor string) (datatypes.Tenant, error)
	Get(ctx context.Context, id string) (datatypes.Tenant, error)
	List(ctx context.Context) ([]datatypes.Tenant, error)
	Provision(ctx context.Context, tenantID, actor string) (datatypes.Tenant, error)
	Transition(ctx context.Context, tenantID string, target datatypes.TenantStatus, actor, reason string) (datatypes.Tenant, error)
}

type createTenantRequest struct {
	Slug string `json:"slug" binding:"required"`
}

type transitionRequest struct {
	Target datatypes.TenantStatus `json:"target" binding:"required"`
	Reason string                 `json:"reason"`
}

// tenantResponse adds the reachable states so clients need not embed the
// transition table.
type tenantResponse struct {
	datatypes.Tenant
	NextStates []datatypes.TenantStatus `json:"next_states"`
}

func newTenantResponse(t datatypes.Tenant) tenantResponse {
	next := lifecycle.NextStates(t.Status)
	if next == nil {
		next = []datatypes.TenantStatus{}
	}
	return tenantResponse{Tenant: t, NextStates: next}
}

// CreateTenant registers a PENDING tenant.
func CreateTenant(svc TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTenantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "slug is required")
			return
		}
		t, err := svc.Create(c.Request.Context(), req.Slug, middleware.Actor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, newTenantResponse(t))
	}
}

func ListTenants(svc TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenants, err := svc.List(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		out := make([]tenantResponse, 0, len(tenants))
		for _, t := range tenants {
			out = append(out, newTenantResponse(t))
		}
		c.JSON(http.StatusOK, gin.H{"tenants": out, "count": len(out)})
	}
}

func GetTenant(svc TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTenantResponse(t))
	}
}

// ProvisionTenant walks a PENDING tenant through PROVISIONING to ACTIVE.
func ProvisionTenant(svc TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Provision(c.Request.Context(), c.Param("id"), middleware.Actor(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTenantResponse(t))
	}
}

// TransitionTenant applies one state change from the request body.
func TransitionTenant(svc TenantService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "target is required")
			return
		}
		if !req.Target.Valid() {
			badRequest(c, "unknown target status "+string(req.Target))
			return
		}
		t, err := svc.Transition(c.Request.Context(), c.Param("id"), req.Target, middleware.Actor(c), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, newTenantResponse(t))
	}
}
