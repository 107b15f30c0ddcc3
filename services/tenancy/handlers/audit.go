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
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/pkg/validation"
	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// AuditService is the read side of the audit chain.
type AuditService interface {
	Query(ctx context.Context, filter datatypes.AuditFilter) iter.Seq2[datatypes.AuditEntry, error]
	Verify(ctx context.Context, fromSeq, toSeq int64) (datatypes.VerifyResult, error)
}

// QueryAudit lists entries in sequence order.
//
// Query parameters: tenant_id, from and to (RFC 3339, from inclusive, to
// exclusive) and limit (default 100, at most 1000). The response sets
// truncated when more entries matched than were returned.
func QueryAudit(svc AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter datatypes.AuditFilter
		if id := c.Query("tenant_id"); id != "" {
			if err := validation.ValidateTenantID(id); err != nil {
				badRequest(c, err.Error())
				return
			}
			filter.TenantID = &id
		}
		var ok bool
		if filter.From, ok = parseTimeParam(c, "from"); !ok {
			return
		}
		if filter.To, ok = parseTimeParam(c, "to"); !ok {
			return
		}

		limit := defaultAuditLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > maxAuditLimit {
				badRequest(c, "limit must be between 1 and 1000")
				return
			}
			limit = n
		}

		entries := make([]datatypes.AuditEntry, 0, limit)
		truncated := false
		for e, err := range svc.Query(c.Request.Context(), filter) {
			if err != nil {
				respondError(c, err)
				return
			}
			if len(entries) == limit {
				truncated = true
				break
			}
			entries = append(entries, e)
		}
		c.JSON(http.StatusOK, gin.H{
			"entries":   entries,
			"count":     len(entries),
			"truncated": truncated,
		})
	}
}

// VerifyAudit recomputes the chain over [from, to]. A broken chain answers
// 500 with chain_integrity_violation set.
func VerifyAudit(svc AuditService) gin.HandlerFunc {
	return func(c *gin.Context) {
		from, ok := parseSeqParam(c, "from")
		if !ok {
			return
		}
		to, ok := parseSeqParam(c, "to")
		if !ok {
			return
		}

		result, err := svc.Verify(c.Request.Context(), from, to)
		if err != nil {
			respondError(c, err)
			return
		}
		if err := result.Err(); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func parseTimeParam(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, name+" must be an RFC 3339 timestamp")
		return nil, false
	}
	return &t, true
}

func parseSeqParam(c *gin.Context, name string) (int64, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		badRequest(c, name+" must be a non-negative sequence number")
		return 0, false
	}
	return n, true
}
