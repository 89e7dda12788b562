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
	"os"

	"github.com/awnumar/memguard"
)

// Secret holds a credential sealed in an encrypted memguard enclave.
//
// # Description
//
// The plaintext lives in guarded memory only while APIKey copies it out for
// a single request. A nil *Secret is valid and yields "".
//
// # Thread Safety
//
// Safe for concurrent use.
type Secret struct {
	enclave *memguard.Enclave
}

// NewSecret seals value. It returns nil for an empty value.
func NewSecret(value string) *Secret {
	if value == "" {
		return nil
	}
	// NewEnclave wipes the slice it is given.
	return &Secret{enclave: memguard.NewEnclave([]byte(value))}
}

// SecretFromEnv seals the named environment variable, or returns nil if it
// is unset or empty.
func SecretFromEnv(name string) *Secret {
	return NewSecret(os.Getenv(name))
}

// Set reports whether the secret holds a value.
func (s *Secret) Set() bool {
	return s != nil && s.enclave != nil
}

// APIKey opens the enclave and returns a copy of the plaintext. It
// implements llm.KeySource.
func (s *Secret) APIKey() string {
	if !s.Set() {
		return ""
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return ""
	}
	defer buf.Destroy()
	return string(buf.Bytes())
}

// String never reveals the value.
func (s *Secret) String() string {
	if !s.Set() {
		return "<unset>"
	}
	return "<redacted>"
}
