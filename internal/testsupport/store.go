package testsupport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/google/uuid"

	"tipline/internal/config"
	"tipline/internal/store"
)

// DefaultReceiptPattern is the receipt shape used by seeded contexts.
const DefaultReceiptPattern = `[A-Z]{4}\+[0-9]{5}`

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// ContextOption customizes a seeded context.
type ContextOption func(*store.Context)

// Selectable makes receivers explicitly selectable by the whistleblower.
func Selectable() ContextOption {
	return func(c *store.Context) { c.SelectableReceiver = true }
}

// WithTTL overrides the tip (days) and submission (hours) time-to-live.
func WithTTL(tipDays, submissionHours int) ContextOption {
	return func(c *store.Context) {
		c.TipTimeToLive = tipDays
		c.SubmissionTimeToLive = submissionHours
	}
}

// WithFields replaces the context's field descriptors.
func WithFields(fields ...store.Field) ContextOption {
	return func(c *store.Context) { c.Fields = fields }
}

// SeedContext stores a context with one required and one optional field and
// links the given receivers to it.
func SeedContext(t testing.TB, st *store.Store, receiverIDs []string, opts ...ContextOption) *store.Context {
	t.Helper()

	c := &store.Context{
		Name:                 "Test context",
		EscalationThreshold:  3,
		TipMaxAccess:         50,
		FileMaxDownload:      5,
		TipTimeToLive:        20,
		SubmissionTimeToLive: 48,
		ReceiptRegexp:        DefaultReceiptPattern,
		Fields: []store.Field{
			{Key: "headline", Label: "Headline", Required: true, Type: "text", Presentation: 1},
			{Key: "details", Label: "Details", Required: false, Type: "textarea", Presentation: 2},
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	err := st.Transact(context.Background(), func(tx *store.Tx) error {
		if err := tx.UpsertContext(context.Background(), c); err != nil {
			return err
		}
		for _, id := range receiverIDs {
			if err := tx.LinkReceiver(context.Background(), id, c.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed context: %v", err)
	}
	return c
}

// SeedReceiver stores a receiver. When recipient is non-empty the receiver
// encrypts files with it and its key is marked valid.
func SeedReceiver(t testing.TB, st *store.Store, name, recipient string) *store.Receiver {
	t.Helper()

	r := &store.Receiver{
		Name:         name,
		Email:        name + "@example.org",
		AgeRecipient: recipient,
		EncryptFiles: recipient != "",
		KeyStatus:    store.KeyNone,
		Level:        1,
	}
	if recipient != "" {
		r.KeyStatus = store.KeyValid
	}
	err := st.Transact(context.Background(), func(tx *store.Tx) error {
		return tx.UpsertReceiver(context.Background(), r)
	})
	if err != nil {
		t.Fatalf("seed receiver: %v", err)
	}
	return r
}

// SeedUpload writes content under the attachments directory and records an
// unattached internal file for it.
func SeedUpload(t testing.TB, cfg *config.Config, st *store.Store, name string, content []byte) *store.InternalFile {
	t.Helper()

	sum := sha256.Sum256(content)
	f := &store.InternalFile{
		Name:         name,
		Size:         int64(len(content)),
		ContentType:  "application/octet-stream",
		SHA256:       hex.EncodeToString(sum[:]),
		CreationDate: time.Now().UTC(),
	}
	f.ID = uuid.NewString()
	f.FilePath = filepath.Join(cfg.Paths.AttachmentsDir, f.ID+".upload")
	if err := os.WriteFile(f.FilePath, content, 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	err := st.Transact(context.Background(), func(tx *store.Tx) error {
		return tx.InsertInternalFile(context.Background(), f)
	})
	if err != nil {
		t.Fatalf("seed upload: %v", err)
	}
	return f
}

// NewRecipient generates an X25519 age identity for tests.
func NewRecipient(t testing.TB) (*age.X25519Identity, string) {
	t.Helper()

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("generate identity: %v", err)
	}
	return identity, identity.Recipient().String()
}
