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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianTenancy/services/tenancy/datatypes"
)

// StatusFor maps an error from the tenancy services to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, datatypes.ErrInvalidSlug):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrInvalidTransition),
		errors.Is(err, datatypes.ErrSlugCollision),
		errors.Is(err, datatypes.ErrSchemaGone),
		errors.Is(err, datatypes.ErrTenantExists),
		errors.Is(err, datatypes.ErrNotExportable),
		errors.Is(err, datatypes.ErrErasureAborted):
		return http.StatusConflict
	case errors.Is(err, datatypes.ErrProvisioningFailed),
		errors.Is(err, datatypes.ErrTeardownFailed),
		errors.Is(err, datatypes.ErrErasureStepFailed):
		return http.StatusBadGateway
	case errors.Is(err, datatypes.ErrClockInsane),
		errors.Is(err, datatypes.ErrAutomationHalted),
		errors.Is(err, datatypes.ErrBackupUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err with its mapped status. Chain violations carry a
// flag so automation can halt on them.
func respondError(c *gin.Context, err error) {
	status := StatusFor(err)
	body := gin.H{"error": err.Error()}

	var chainErr *datatypes.ChainError
	if errors.As(err, &chainErr) {
		body["chain_integrity_violation"] = true
		body["broken_at_seq"] = chainErr.BrokenAtSeq
	}

	var stepErr *datatypes.StepError
	if errors.As(err, &stepErr) {
		body["failed_step"] = stepErr.Step.String()
		body["last_completed_step"] = int(stepErr.LastCompletedStep)
	}

	if status >= http.StatusInternalServerError {
		slog.Error("tenancy.http.request_failed", "route", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
