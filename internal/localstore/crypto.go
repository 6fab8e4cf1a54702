package localstore

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

const nonceBytes = 24

var errDecrypt = errors.New("decryption failed")

// seal encrypts plaintext with the store key, prepending the random nonce.
func seal(key, plaintext []byte) ([]byte, error) {
	if len(key) != keyBytes {
		return nil, fmt.Errorf("store key must be %d bytes", keyBytes)
	}
	var nonce [nonceBytes]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	var k [keyBytes]byte
	copy(k[:], key)
	return secretbox.Seal(nonce[:], plaintext, &nonce, &k), nil
}

// open decrypts a sealed blob. Failure means the blob is corrupt or was
// sealed with a different key; it is never retried.
func open(key, sealed []byte) ([]byte, error) {
	if len(key) != keyBytes {
		return nil, fmt.Errorf("store key must be %d bytes", keyBytes)
	}
	if len(sealed) < nonceBytes {
		return nil, errDecrypt
	}
	var nonce [nonceBytes]byte
	copy(nonce[:], sealed[:nonceBytes])
	var k [keyBytes]byte
	copy(k[:], key)
	plaintext, ok := secretbox.Open(nil, sealed[nonceBytes:], &nonce, &k)
	if !ok {
		return nil, errDecrypt
	}
	return plaintext, nil
}
