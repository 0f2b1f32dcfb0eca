// Package encryption wraps filippo.io/age for per-receiver file and
// notification encryption.
//
// Receivers publish an age X25519 recipient (age1...). Files are encrypted as
// binary age streams; notification bodies are ASCII-armored so they survive
// mail transport. Every key failure is reported as services.ErrKeyInvalid so
// callers can downgrade a single receiver without aborting a batch.
package encryption

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"tipline/internal/services"
)

// Encryptor encrypts content for a single recipient.
type Encryptor interface {
	EncryptStream(dst io.Writer, src io.Reader, recipient string) error
	EncryptText(plaintext, recipient string) (string, error)
}

// Age implements Encryptor with age X25519 recipients.
type Age struct{}

// NewAge returns the age-backed encryptor.
func NewAge() *Age {
	return &Age{}
}

// ParseRecipient validates an age public key.
func ParseRecipient(recipient string) (*age.X25519Recipient, error) {
	parsed, err := age.ParseX25519Recipient(strings.TrimSpace(recipient))
	if err != nil {
		return nil, services.Wrap(services.ErrKeyInvalid, "encryption", "parse recipient", "", err)
	}
	return parsed, nil
}

// EncryptStream copies src into dst as an age ciphertext for recipient.
func (a *Age) EncryptStream(dst io.Writer, src io.Reader, recipient string) error {
	parsed, err := ParseRecipient(recipient)
	if err != nil {
		return err
	}
	writer, err := age.Encrypt(dst, parsed)
	if err != nil {
		return services.Wrap(services.ErrKeyInvalid, "encryption", "create encryptor", "", err)
	}
	if _, err := io.Copy(writer, src); err != nil {
		return fmt.Errorf("write plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize age encryption: %w", err)
	}
	return nil
}

// EncryptText encrypts plaintext for recipient and returns the armored ciphertext.
func (a *Age) EncryptText(plaintext, recipient string) (string, error) {
	var buf bytes.Buffer
	armored := armor.NewWriter(&buf)
	if err := a.EncryptStream(armored, strings.NewReader(plaintext), recipient); err != nil {
		return "", err
	}
	if err := armored.Close(); err != nil {
		return "", fmt.Errorf("finalize armor: %w", err)
	}
	return buf.String(), nil
}

// Keypair holds a freshly generated age identity.
type Keypair struct {
	// Identity is the AGE-SECRET-KEY-1... private key. It is shown to the
	// receiver once and never stored by tipline.
	Identity  string
	Recipient string
}

// GenerateKeypair creates a new X25519 identity.
func GenerateKeypair() (Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate age keypair: %w", err)
	}
	return Keypair{Identity: identity.String(), Recipient: identity.Recipient().String()}, nil
}

// Decrypt opens an age ciphertext, binary or armored, with the given identity.
func Decrypt(src io.Reader, identity string) (io.Reader, error) {
	parsed, err := age.ParseX25519Identity(strings.TrimSpace(identity))
	if err != nil {
		return nil, services.Wrap(services.ErrKeyInvalid, "encryption", "parse identity", "", err)
	}
	buffered := bufferedPeek(src)
	var in io.Reader = buffered
	if hasArmorHeader(buffered) {
		in = armor.NewReader(buffered)
	}
	reader, err := age.Decrypt(in, parsed)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return reader, nil
}
