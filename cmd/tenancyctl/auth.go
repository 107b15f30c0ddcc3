// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianTenancy/pkg/extensions"
)

// tokenFile is the on-disk form of the static token table.
//
//	tokens:
//	  s3cr3t:
//	    user_id: dpo@example.com
//	    roles: [compliance]
type tokenFile struct {
	Tokens map[string]tokenEntry `yaml:"tokens" validate:"required,min=1,dive"`
}

type tokenEntry struct {
	UserID string   `yaml:"user_id" validate:"required"`
	Email  string   `yaml:"email" validate:"omitempty,email"`
	Roles  []string `yaml:"roles" validate:"required,min=1,dive,oneof=admin compliance operator viewer"`
}

// loadServiceOptions returns the nop providers when path is empty, and
// static-token authentication with role rules otherwise.
func loadServiceOptions(path string) (extensions.ServiceOptions, error) {
	opts := extensions.DefaultOptions()
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read the token file %s: %w", path, err)
	}
	var f tokenFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return opts, fmt.Errorf("failed to parse the token file %s: %w", path, err)
	}
	if err := validator.New().Struct(f); err != nil {
		return opts, fmt.Errorf("invalid token file %s: %w", path, err)
	}

	tokens := make(map[string]extensions.AuthInfo, len(f.Tokens))
	for token, e := range f.Tokens {
		tokens[token] = extensions.AuthInfo{UserID: e.UserID, Email: e.Email, Roles: e.Roles}
	}
	return opts.
		WithAuth(extensions.NewStaticTokenAuthProvider(tokens)).
		WithAuthz(extensions.NewRoleAuthzProvider(extensions.DefaultTenancyRules())), nil
}
