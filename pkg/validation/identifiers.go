// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// SQL identifiers, Flux queries, or storage keys. Using these validators
// prevents injection attacks (SQL/Flux injection, key-prefix traversal).
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// slugPattern matches tenant slugs.
// Allows: letters, digits, dots, hyphens, underscores and spaces after a
// leading letter or digit. Max length: 56 characters, so that the derived
// namespace "tenant_<slug>" fits the 63-byte Postgres identifier limit.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._ \-]{0,55}$`)

// labelPattern matches lowercase enum-like labels such as resource types
// and data categories.
var labelPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,31}$`)

// ValidateSlug validates a tenant slug.
//
// Valid slugs:
//   - 1-56 characters
//   - Start with a letter or digit
//   - Letters, digits, dots, hyphens, underscores, spaces
//
// Example:
//
//	if err := validation.ValidateSlug(slug); err != nil {
//	    return fmt.Errorf("create tenant: %w", err)
//	}
func ValidateSlug(slug string) error {
	if slug == "" {
		return fmt.Errorf("slug cannot be empty")
	}
	if !slugPattern.MatchString(slug) {
		return fmt.Errorf("invalid slug format: %q (must be 1-56 chars of letters, digits, '.', '-', '_' or space, starting alphanumeric)", slug)
	}
	return nil
}

// ValidateTenantID validates a tenant id. Tenant ids are UUIDs.
func ValidateTenantID(id string) error {
	if id == "" {
		return fmt.Errorf("tenant id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid tenant id %q: %w", id, err)
	}
	return nil
}

// ValidateLabel validates a lowercase label used as a Flux tag value or
// storage key segment.
func ValidateLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid label %q (must be 1-32 lowercase alphanumeric or '_' chars, starting with a letter)", label)
	}
	return nil
}

// ValidateLabels validates multiple labels.
// Returns an error listing all invalid labels if any fail validation.
func ValidateLabels(labels []string) error {
	var invalid []string
	for _, l := range labels {
		if err := ValidateLabel(l); err != nil {
			invalid = append(invalid, l)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid labels: %v", invalid)
	}
	return nil
}

// SanitizeSlug trims and validates a slug. Case is preserved; the namespace
// mapping lowercases it.
func SanitizeSlug(slug string) (string, error) {
	trimmed := strings.TrimSpace(slug)
	if err := ValidateSlug(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
