// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package credential_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeline/sessionkeeper/internal/credential"
	"github.com/scribeline/sessionkeeper/pkg/errutil"
)

func sample() credential.Credential {
	return credential.Credential{
		AccessToken: "tok-123",
		TokenType:   "bearer",
		ObtainedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestCredential_Authorization(t *testing.T) {
	assert.Equal(t, "Bearer tok-123", sample().Authorization())
	assert.Empty(t, credential.Credential{}.Authorization())
	assert.True(t, credential.Credential{}.Empty())
}

func TestMemory_GenerationTracksChanges(t *testing.T) {
	m := credential.NewMemory()

	c, gen0 := m.Load()
	assert.True(t, c.Empty())

	require.NoError(t, m.Save(sample()))
	c, gen1 := m.Load()
	assert.Equal(t, "tok-123", c.AccessToken)
	assert.Greater(t, gen1, gen0)

	require.NoError(t, m.Clear())
	c, gen2 := m.Load()
	assert.True(t, c.Empty())
	assert.Greater(t, gen2, gen1)
}

func TestMemory_CompareAndSave(t *testing.T) {
	m := credential.NewMemory()
	require.NoError(t, m.Save(sample()))
	_, gen := m.Load()

	require.NoError(t, m.Clear())

	refreshed := sample()
	refreshed.AccessToken = "tok-456"
	ok, err := m.CompareAndSave(gen, refreshed)
	require.NoError(t, err)
	assert.False(t, ok, "credential was cleared after gen was read")

	c, current := m.Load()
	assert.True(t, c.Empty())

	ok, err = m.CompareAndSave(current, refreshed)
	require.NoError(t, err)
	assert.True(t, ok)
	c, _ = m.Load()
	assert.Equal(t, "tok-456", c.AccessToken)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := credential.NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Save(sample())
		}()
		go func() {
			defer wg.Done()
			_, gen := m.Load()
			_, _ = m.CompareAndSave(gen, sample())
		}()
	}
	wg.Wait()

	_, gen := m.Load()
	assert.GreaterOrEqual(t, gen, uint64(50))
}

func TestOpenFile_MissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credential.json")

	f, err := credential.OpenFile(path)
	require.NoError(t, err)
	c, _ := f.Load()
	assert.True(t, c.Empty())
	assert.Equal(t, path, f.Path())
}

func TestOpenFile_EmptyPath(t *testing.T) {
	_, err := credential.OpenFile("")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CREDENTIAL_PATH_EMPTY")
}

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "credential.json")

	f, err := credential.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Save(sample()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	reopened, err := credential.OpenFile(path)
	require.NoError(t, err)
	c, _ := reopened.Load()
	assert.Equal(t, sample().AccessToken, c.AccessToken)
	assert.True(t, sample().ObtainedAt.Equal(c.ObtainedAt))
}

func TestFile_ClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	f, err := credential.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Save(sample()))

	require.NoError(t, f.Clear())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, f.Clear(), "clearing twice is fine")
}

func TestFile_ClearKeepsCredentialWhenFileStays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	f, err := credential.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Save(sample()))
	_, gen := f.Load()

	// A non-empty directory in place of the file cannot be removed.
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "blocker"), 0o700))

	err = f.Clear()
	errutil.AssertErrorCode(t, err, "CREDENTIAL_REMOVE_FAILED")
	c, after := f.Load()
	assert.Equal(t, sample().AccessToken, c.AccessToken)
	assert.Equal(t, gen, after)

	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, f.Clear())
	c, after = f.Load()
	assert.True(t, c.Empty())
	assert.Greater(t, after, gen)
}

func TestFile_SealedRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")

	f, err := credential.OpenFile(path, credential.WithPassphrase("correct horse"))
	require.NoError(t, err)
	require.NoError(t, f.Save(sample()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "tok-123")
	assert.Contains(t, string(raw), `"sealed"`)

	reopened, err := credential.OpenFile(path, credential.WithPassphrase("correct horse"))
	require.NoError(t, err)
	c, _ := reopened.Load()
	assert.Equal(t, "tok-123", c.AccessToken)
}

func TestFile_SealedWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	f, err := credential.OpenFile(path, credential.WithPassphrase("correct horse"))
	require.NoError(t, err)
	require.NoError(t, f.Save(sample()))

	_, err = credential.OpenFile(path, credential.WithPassphrase("battery staple"))
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CREDENTIAL_UNSEAL_FAILED")

	_, err = credential.OpenFile(path)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CREDENTIAL_PASSPHRASE_REQUIRED")
}

func TestOpenFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := credential.OpenFile(path)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CREDENTIAL_DECODE_FAILED")
}

func TestOpenFile_UnsupportedVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 9}`), 0o600))

	_, err := credential.OpenFile(path)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CREDENTIAL_VERSION_UNSUPPORTED")
	errutil.AssertErrorContext(t, err, "version", 9)
}

func TestFile_CompareAndSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	f, err := credential.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.Save(sample()))
	_, gen := f.Load()

	require.NoError(t, f.Clear())
	ok, err := f.CompareAndSave(gen, sample())
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "stale refresh must not resurrect the file")
}

func mint(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestExpiresAt(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := mint(t, jwt.MapClaims{"sub": "alice", "exp": exp.Unix()})

	got, ok := credential.ExpiresAt(tok)
	require.True(t, ok)
	assert.True(t, exp.Equal(got))

	sub, ok := credential.Subject(tok)
	require.True(t, ok)
	assert.Equal(t, "alice", sub)
}

func TestExpiresAt_NoClaim(t *testing.T) {
	tok := mint(t, jwt.MapClaims{"sub": "alice"})
	_, ok := credential.ExpiresAt(tok)
	assert.False(t, ok)
}

func TestExpiresAt_Opaque(t *testing.T) {
	for _, tok := range []string{"", "opaque-token", "a.b.c"} {
		_, ok := credential.ExpiresAt(tok)
		assert.False(t, ok, tok)
		_, ok = credential.Subject(tok)
		assert.False(t, ok, tok)
	}
}
