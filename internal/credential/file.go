// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package credential

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// fileFormatVersion is the on-disk envelope version.
const fileFormatVersion = 1

// envelope is the JSON document written to disk. Exactly one of Credential
// and Sealed is set.
type envelope struct {
	Version    int         `json:"version"`
	Credential *Credential `json:"credential,omitempty"`
	Sealed     *sealedBox  `json:"sealed,omitempty"`
}

// File is a Store persisted as a JSON file so that a session survives
// process restarts. When a passphrase is configured the credential is sealed
// before it touches the disk.
type File struct {
	path       string
	passphrase []byte

	mu   sync.Mutex
	cred Credential
	gen  uint64
}

// FileOption configures a File store.
type FileOption func(*File)

// WithPassphrase seals the stored credential with a key derived from passphrase.
func WithPassphrase(passphrase string) FileOption {
	return func(f *File) {
		if passphrase != "" {
			f.passphrase = []byte(passphrase)
		}
	}
}

// OpenFile opens the credential file at path, loading any credential already
// stored there. A missing file is not an error.
func OpenFile(path string, opts ...FileOption) (*File, error) {
	if path == "" {
		return nil, oops.Code("CREDENTIAL_PATH_EMPTY").Errorf("credential file path is required")
	}
	f := &File{path: path}
	for _, opt := range opts {
		opt(f)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, oops.Code("CREDENTIAL_READ_FAILED").With("path", path).Wrap(err)
	}

	cred, err := f.decode(data)
	if err != nil {
		return nil, err
	}
	f.cred = cred
	return f, nil
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Load returns the current credential and its generation.
func (f *File) Load() (Credential, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cred, f.gen
}

// Save replaces the credential unconditionally.
func (f *File) Save(c Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveLocked(c)
}

// CompareAndSave replaces the credential only if the generation is still gen.
func (f *File) CompareAndSave(gen uint64, c Credential) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gen != gen {
		return false, nil
	}
	if err := f.saveLocked(c); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes the file and drops the credential. If the file cannot be
// removed the credential is kept, so memory and disk never disagree.
func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CREDENTIAL_REMOVE_FAILED").With("path", f.path).Wrap(err)
	}
	f.cred = Credential{}
	f.gen++
	return nil
}

func (f *File) saveLocked(c Credential) error {
	data, err := f.encode(c)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(f.path, data); err != nil {
		return err
	}
	f.cred = c
	f.gen++
	return nil
}

func (f *File) encode(c Credential) ([]byte, error) {
	env := envelope{Version: fileFormatVersion}
	if f.passphrase == nil {
		env.Credential = &c
	} else {
		plain, err := json.Marshal(c)
		if err != nil {
			return nil, oops.Code("CREDENTIAL_ENCODE_FAILED").Wrap(err)
		}
		box, err := seal(f.passphrase, plain)
		if err != nil {
			return nil, err
		}
		env.Sealed = box
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return nil, oops.Code("CREDENTIAL_ENCODE_FAILED").Wrap(err)
	}
	return data, nil
}

func (f *File) decode(data []byte) (Credential, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Credential{}, oops.Code("CREDENTIAL_DECODE_FAILED").With("path", f.path).Wrap(err)
	}
	if env.Version != fileFormatVersion {
		return Credential{}, oops.Code("CREDENTIAL_VERSION_UNSUPPORTED").
			With("path", f.path).
			With("version", env.Version).
			Errorf("unsupported credential file version %d", env.Version)
	}

	switch {
	case env.Sealed != nil:
		if f.passphrase == nil {
			return Credential{}, oops.Code("CREDENTIAL_PASSPHRASE_REQUIRED").
				With("path", f.path).
				Errorf("credential file is sealed but no passphrase is configured")
		}
		plain, err := unseal(f.passphrase, env.Sealed)
		if err != nil {
			return Credential{}, err
		}
		var c Credential
		if err := json.Unmarshal(plain, &c); err != nil {
			return Credential{}, oops.Code("CREDENTIAL_DECODE_FAILED").With("path", f.path).Wrap(err)
		}
		return c, nil
	case env.Credential != nil:
		return *env.Credential, nil
	default:
		return Credential{}, nil
	}
}

// writeFileAtomic writes data to a temp file beside path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return oops.Code("CREDENTIAL_WRITE_FAILED").With("path", path).Wrap(err)
	}

	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return oops.Code("CREDENTIAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName) //nolint:errcheck // already renamed on success
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return oops.Code("CREDENTIAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return oops.Code("CREDENTIAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return oops.Code("CREDENTIAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return oops.Code("CREDENTIAL_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
