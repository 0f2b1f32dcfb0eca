package receipt

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN      = 1 << 14
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 64
)

// ErrEmptyReceipt is returned when hashing an empty plaintext.
var ErrEmptyReceipt = errors.New("receipt is empty")

// Hash derives the stored form of a receipt: scrypt over the plaintext keyed
// by the first 32 hex characters of SHA-512(salt), hex encoded.
func Hash(plaintext, salt string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyReceipt
	}
	key, err := scrypt.Key([]byte(plaintext), deriveSalt(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return "", fmt.Errorf("hash receipt: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Verify reports whether plaintext hashes to stored under salt. The
// comparison runs in constant time.
func Verify(plaintext, salt, stored string) bool {
	computed, err := Hash(plaintext, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored)) == 1
}

func deriveSalt(salt string) []byte {
	sum := sha512.Sum512([]byte(salt))
	return []byte(hex.EncodeToString(sum[:])[:32])
}
