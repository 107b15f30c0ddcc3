// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/awnumar/memguard"
)

// Secret names. Each is read from TENANCY_<NAME> or from the file named by
// TENANCY_<NAME>_FILE.
const (
	SecretPostgresPassword = "PG_PASSWORD"
	SecretRedisPassword    = "REDIS_PASSWORD"
	SecretInfluxToken      = "INFLUX_TOKEN"
)

// Secret holds a credential sealed in a memguard enclave. The plaintext
// exists only inside Use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. The caller's slice is wiped.
func NewSecret(value []byte) *Secret {
	if len(value) == 0 {
		return &Secret{}
	}
	return &Secret{enclave: memguard.NewEnclave(value)}
}

// Empty reports whether the secret has no value.
func (s *Secret) Empty() bool {
	return s == nil || s.enclave == nil
}

// Use opens the enclave, passes the plaintext to fn and destroys the
// buffer afterwards. An empty secret passes "".
func (s *Secret) Use(fn func(plaintext string) error) error {
	if s.Empty() {
		return fn("")
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open secret enclave: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.String())
}

// LoadSecret reads a named secret from the environment. A missing secret
// yields an empty Secret.
func LoadSecret(name string) (*Secret, error) {
	if path := os.Getenv("TENANCY_" + name + "_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read secret file for %s: %w", name, err)
		}
		return NewSecret(bytes.TrimRight(data, "\r\n")), nil
	}
	if v := os.Getenv("TENANCY_" + name); v != "" {
		return NewSecret([]byte(v)), nil
	}
	return &Secret{}, nil
}
