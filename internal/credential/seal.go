// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sessionkeeper Contributors

package credential

import (
	"crypto/rand"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2id parameters for deriving the sealing key.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	saltBytes  = 16
)

// sealedBox is the encrypted form of a credential.
type sealedBox struct {
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func deriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, chacha20poly1305.KeySize)
}

// seal encrypts plain with XChaCha20-Poly1305 under a fresh salt and nonce.
func seal(passphrase, plain []byte) (*sealedBox, error) {
	salt := make([]byte, saltBytes)
	if _, err := rand.Read(salt); err != nil {
		return nil, oops.Code("CREDENTIAL_SEAL_FAILED").With("operation", "generate salt").Wrap(err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, oops.Code("CREDENTIAL_SEAL_FAILED").With("operation", "create cipher").Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, oops.Code("CREDENTIAL_SEAL_FAILED").With("operation", "generate nonce").Wrap(err)
	}
	return &sealedBox{
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plain, nil),
	}, nil
}

// unseal decrypts a sealed box. A wrong passphrase surfaces as CREDENTIAL_UNSEAL_FAILED.
func unseal(passphrase []byte, box *sealedBox) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, box.Salt))
	if err != nil {
		return nil, oops.Code("CREDENTIAL_UNSEAL_FAILED").With("operation", "create cipher").Wrap(err)
	}
	if len(box.Nonce) != aead.NonceSize() {
		return nil, oops.Code("CREDENTIAL_UNSEAL_FAILED").Errorf("invalid nonce length %d", len(box.Nonce))
	}
	plain, err := aead.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, oops.Code("CREDENTIAL_UNSEAL_FAILED").Wrap(err)
	}
	return plain, nil
}
