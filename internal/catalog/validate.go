package catalog

import (
	"errors"
	"fmt"
	"strings"

	"tipline/internal/encryption"
	"tipline/internal/receipt"
	"tipline/internal/services"
	"tipline/internal/store"
)

// DefaultReceiptPattern is used when a context does not define one.
const DefaultReceiptPattern = receipt.DefaultPattern

var (
	ErrTTLInvariant   = errors.New("submission_timetolive exceeds tip_timetolive")
	ErrInvalidPattern = errors.New("invalid receipt pattern")
	ErrDuplicateField = errors.New("duplicate field key")
	ErrInvalidKey     = errors.New("invalid receiver key")
)

// ValidateContext normalizes and checks a context definition.
func ValidateContext(c *store.Context) error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return services.Wrap(services.ErrValidation, "catalog", "context", "name is required", nil)
	}
	if c.TipTimeToLive < 0 || c.SubmissionTimeToLive < 0 {
		return services.Wrap(services.ErrValidation, "catalog", "context", "time-to-live must be >= 0", nil)
	}
	if c.SubmissionLifeSeconds() > c.TipLifeSeconds() {
		return services.Wrap(services.ErrValidation, "catalog", "context",
			fmt.Sprintf("%d hours > %d days", c.SubmissionTimeToLive, c.TipTimeToLive), ErrTTLInvariant)
	}
	if c.EscalationThreshold < 0 || c.TipMaxAccess < 0 || c.FileMaxDownload < 0 {
		return services.Wrap(services.ErrValidation, "catalog", "context", "limits must be >= 0", nil)
	}

	if strings.TrimSpace(c.ReceiptRegexp) == "" {
		c.ReceiptRegexp = DefaultReceiptPattern
	}
	if _, err := receipt.Generate(c.ReceiptRegexp); err != nil {
		return services.Wrap(services.ErrValidation, "catalog", "context", c.ReceiptRegexp, fmt.Errorf("%w: %w", ErrInvalidPattern, err))
	}

	seen := make(map[string]struct{}, len(c.Fields))
	for i := range c.Fields {
		key := strings.TrimSpace(c.Fields[i].Key)
		if key == "" {
			return services.Wrap(services.ErrValidation, "catalog", "context", fmt.Sprintf("field %d has no key", i), nil)
		}
		if _, dup := seen[key]; dup {
			return services.Wrap(services.ErrValidation, "catalog", "context", key, ErrDuplicateField)
		}
		seen[key] = struct{}{}
		c.Fields[i].Key = key
		if c.Fields[i].Presentation == 0 {
			c.Fields[i].Presentation = i + 1
		}
		if c.Fields[i].Type == "" {
			c.Fields[i].Type = "text"
		}
	}
	return nil
}

// ValidateReceiver normalizes and checks a receiver definition, deriving its key status.
func ValidateReceiver(r *store.Receiver) error {
	r.Name = strings.TrimSpace(r.Name)
	r.Email = strings.TrimSpace(r.Email)
	if r.Name == "" {
		return services.Wrap(services.ErrValidation, "catalog", "receiver", "name is required", nil)
	}
	if !strings.Contains(r.Email, "@") {
		return services.Wrap(services.ErrValidation, "catalog", "receiver", fmt.Sprintf("%s: email %q is not an address", r.Name, r.Email), nil)
	}
	if r.Level <= 0 {
		r.Level = 1
	}

	r.AgeRecipient = strings.TrimSpace(r.AgeRecipient)
	if r.AgeRecipient == "" {
		if r.EncryptFiles || r.EncryptNotifications {
			return services.Wrap(services.ErrValidation, "catalog", "receiver", r.Name+": encryption requested without age_recipient", ErrInvalidKey)
		}
		r.KeyStatus = store.KeyNone
		return nil
	}
	if _, err := encryption.ParseRecipient(r.AgeRecipient); err != nil {
		return services.Wrap(services.ErrValidation, "catalog", "receiver", r.Name, fmt.Errorf("%w: %w", ErrInvalidKey, err))
	}
	r.KeyStatus = store.KeyValid
	return nil
}
