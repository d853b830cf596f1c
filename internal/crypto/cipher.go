package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	kgerrors "github.com/illarion/keyguard/internal/errors"
)

// ErrAuthFailed covers every decryption failure: wrong key, tampered or
// truncated payload. Callers cannot tell these apart.
var ErrAuthFailed = fmt.Errorf("%w: authentication failed", kgerrors.ErrCrypto)

// Encryptor provides authenticated encryption
type Encryptor struct {
	key *Key
}

// NewEncryptor creates a new encryptor with the given key.
// The key stays owned by the caller.
func NewEncryptor(key *Key) (*Encryptor, error) {
	if len(key.Bytes()) != KeySize {
		return nil, fmt.Errorf("%w: encryptor needs a live %d-byte key", kgerrors.ErrCrypto, KeySize)
	}
	return &Encryptor{key: key}, nil
}

func (e *Encryptor) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create cipher: %w", kgerrors.ErrCrypto, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCM: %w", kgerrors.ErrCrypto, err)
	}
	return gcm, nil
}

// Encrypt encrypts plaintext using AES-256-GCM under a fresh random nonce
func (e *Encryptor) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("%w: failed to generate nonce: %w", kgerrors.ErrCrypto, err)
	}

	// Seal appends to the nonce slice: nonce || ciphertext || tag
	result := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	copy(result, nonce)
	return gcm.Seal(result, nonce, plaintext, nil), nil
}

// Decrypt verifies and decrypts a payload produced by Encrypt
func (e *Encryptor) Decrypt(payload []byte) ([]byte, error) {
	if len(payload) < NonceSize+TagSize {
		return nil, ErrAuthFailed
	}

	gcm, err := e.aead()
	if err != nil {
		return nil, err
	}

	nonce := payload[:NonceSize]
	plaintext, err := gcm.Open(nil, nonce, payload[NonceSize:], nil)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}
