// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extensions defines the identity hooks of the tenancy API.
//
// # Description
//
// The open source build authenticates every caller as "local-user" with
// admin rights. Deployments swap in real providers through ServiceOptions.
//
// # Example
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(extensions.NewStaticTokenAuthProvider(tokens)).
//	    WithAuthz(extensions.NewRoleAuthzProvider(extensions.DefaultTenancyRules()))
package extensions

// ServiceOptions bundles the identity providers.
type ServiceOptions struct {
	// AuthProvider identifies the caller.
	AuthProvider AuthProvider

	// AuthzProvider decides whether the caller may act.
	AuthzProvider AuthzProvider
}

// DefaultOptions returns no-op providers.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider:  &NopAuthProvider{},
		AuthzProvider: &NopAuthzProvider{},
	}
}

// WithAuth returns a copy using provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAuthz returns a copy using provider.
func (opts ServiceOptions) WithAuthz(provider AuthzProvider) ServiceOptions {
	opts.AuthzProvider = provider
	return opts
}
