// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

// Package credential stores the opaque credential artifact issued at login.
package credential

import (
	"sync"
	"time"
)

// Credential is the bearer token returned by the login and refresh endpoints.
type Credential struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ObtainedAt  time.Time `json:"obtained_at"`
}

// Empty reports whether c carries no token.
func (c Credential) Empty() bool {
	return c.AccessToken == ""
}

// Authorization returns the value for the Authorization header.
func (c Credential) Authorization() string {
	if c.Empty() {
		return ""
	}
	return "Bearer " + c.AccessToken
}

// Store holds at most one credential. Every Save or Clear bumps a generation
// counter so that a late writer can detect that the credential changed
// underneath it.
type Store interface {
	// Load returns the current credential and its generation.
	Load() (Credential, uint64)
	// Save replaces the credential unconditionally.
	Save(c Credential) error
	// CompareAndSave replaces the credential only if the generation is still gen.
	CompareAndSave(gen uint64, c Credential) (bool, error)
	// Clear drops the credential.
	Clear() error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.Mutex
	cred Credential
	gen  uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns the current credential and its generation.
func (m *Memory) Load() (Credential, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred, m.gen
}

// Save replaces the credential unconditionally.
func (m *Memory) Save(c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = c
	m.gen++
	return nil
}

// CompareAndSave replaces the credential only if the generation is still gen.
func (m *Memory) CompareAndSave(gen uint64, c Credential) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false, nil
	}
	m.cred = c
	m.gen++
	return true, nil
}

// Clear drops the credential.
func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cred = Credential{}
	m.gen++
	return nil
}
