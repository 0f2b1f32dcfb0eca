package encryption_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"tipline/internal/encryption"
	"tipline/internal/services"
)

func TestEncryptStreamRoundTrip(t *testing.T) {
	keys, err := encryption.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	enc := encryption.NewAge()

	var ciphertext bytes.Buffer
	if err := enc.EncryptStream(&ciphertext, strings.NewReader("leaked memo"), keys.Recipient); err != nil {
		t.Fatalf("EncryptStream: %v", err)
	}
	if bytes.Contains(ciphertext.Bytes(), []byte("leaked memo")) {
		t.Fatal("ciphertext contains plaintext")
	}

	reader, err := encryption.Decrypt(&ciphertext, keys.Identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	plain, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("read plaintext: %v", err)
	}
	if string(plain) != "leaked memo" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestEncryptTextIsArmored(t *testing.T) {
	keys, err := encryption.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	armored, err := encryption.NewAge().EncryptText("new tip", keys.Recipient)
	if err != nil {
		t.Fatalf("EncryptText: %v", err)
	}
	if !strings.HasPrefix(armored, "-----BEGIN AGE ENCRYPTED FILE-----") {
		t.Fatalf("expected armored output, got %q", armored)
	}

	reader, err := encryption.Decrypt(strings.NewReader(armored), keys.Identity)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	plain, _ := io.ReadAll(reader)
	if string(plain) != "new tip" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestInvalidRecipientIsKeyInvalid(t *testing.T) {
	enc := encryption.NewAge()
	err := enc.EncryptStream(io.Discard, strings.NewReader("x"), "age1notakey")
	if !errors.Is(err, services.ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid, got %v", err)
	}
	if _, err := encryption.ParseRecipient(""); !errors.Is(err, services.ErrKeyInvalid) {
		t.Fatalf("expected ErrKeyInvalid for empty key, got %v", err)
	}
}
