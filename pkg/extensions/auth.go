// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
)

// ErrUnauthorized is returned when a token is missing or invalid.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden is returned when an authenticated user may not perform an
// action.
var ErrForbidden = errors.New("forbidden")

// Roles recognized by RoleAuthzProvider.
const (
	RoleAdmin      = "admin"
	RoleCompliance = "compliance"
	RoleOperator   = "operator"
	RoleViewer     = "viewer"
)

// AuthInfo is the authenticated caller. UserID becomes the audit actor.
type AuthInfo struct {
	UserID string
	Email  string
	Roles  []string
}

// HasRole reports whether the user holds role.
func (a *AuthInfo) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Open Source Behavior
//
// The default NopAuthProvider always returns a valid "local-user" with admin
// privileges so a single-node deployment works without any identity
// infrastructure.
type AuthProvider interface {
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// AuthzRequest describes an action on a tenancy resource.
type AuthzRequest struct {
	User         *AuthInfo
	Action       string
	ResourceType string
	ResourceID   string
}

// AuthzProvider decides whether a request is allowed.
type AuthzProvider interface {
	Authorize(ctx context.Context, req AuthzRequest) error
}

// NopAuthProvider is the default authentication provider for open source.
//
// Thread-safe: This implementation has no mutable state.
type NopAuthProvider struct{}

// Validate always returns a valid local user with admin privileges.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{RoleAdmin},
	}, nil
}

// NopAuthzProvider allows everything.
type NopAuthzProvider struct{}

// Authorize always returns nil.
func (p *NopAuthzProvider) Authorize(_ context.Context, _ AuthzRequest) error {
	return nil
}

// StaticTokenAuthProvider maps fixed API tokens to identities. Tokens are
// compared in constant time.
type StaticTokenAuthProvider struct {
	tokens map[string]AuthInfo
}

// NewStaticTokenAuthProvider creates a provider from token -> identity.
func NewStaticTokenAuthProvider(tokens map[string]AuthInfo) *StaticTokenAuthProvider {
	cp := make(map[string]AuthInfo, len(tokens))
	for k, v := range tokens {
		cp[k] = v
	}
	return &StaticTokenAuthProvider{tokens: cp}
}

// Validate returns the identity bound to token.
func (p *StaticTokenAuthProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	for candidate, info := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			out := info
			return &out, nil
		}
	}
	return nil, ErrUnauthorized
}

// RoleAuthzProvider allows an action when the user holds one of the roles
// listed for it. Actions with no entry are allowed for any authenticated
// user. RoleAdmin is allowed everything.
type RoleAuthzProvider struct {
	rules map[string][]string
}

// NewRoleAuthzProvider creates a provider from action -> allowed roles.
func NewRoleAuthzProvider(rules map[string][]string) *RoleAuthzProvider {
	return &RoleAuthzProvider{rules: rules}
}

// DefaultTenancyRules restricts destructive and compliance actions.
func DefaultTenancyRules() map[string][]string {
	return map[string][]string{
		"tenant.create":     {RoleOperator},
		"tenant.transition": {RoleOperator},
		"tenant.provision":  {RoleOperator},
		"retention.set":     {RoleCompliance},
		"erasure.run":       {RoleCompliance},
		"export.request":    {RoleCompliance, RoleOperator},
		"export.status":     {RoleCompliance, RoleOperator},
		"audit.verify":      {RoleCompliance, RoleOperator},
		"audit.halt_clear":  {RoleCompliance},
	}
}

// Authorize checks req.User's roles against the rule for req.Action.
func (p *RoleAuthzProvider) Authorize(_ context.Context, req AuthzRequest) error {
	if req.User == nil {
		return ErrUnauthorized
	}
	if req.User.HasRole(RoleAdmin) {
		return nil
	}
	allowed, ok := p.rules[req.Action]
	if !ok {
		return nil
	}
	for _, role := range allowed {
		if req.User.HasRole(role) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s on %s %s requires one of %v", ErrForbidden, req.Action, req.ResourceType, req.ResourceID, allowed)
}

var (
	_ AuthProvider  = (*NopAuthProvider)(nil)
	_ AuthProvider  = (*StaticTokenAuthProvider)(nil)
	_ AuthzProvider = (*NopAuthzProvider)(nil)
	_ AuthzProvider = (*RoleAuthzProvider)(nil)
)
