package submission

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tipline/internal/attachments"
	"tipline/internal/logging"
	"tipline/internal/receipt"
	"tipline/internal/store"
)

// receiptAttempts bounds regeneration when a receipt hash collides with an
// existing whistleblower tip.
const receiptAttempts = 3

// Trigger is notified after a finalize has been committed.
type Trigger interface {
	TipFinalized(tipID string)
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func(tipID string)

// TipFinalized calls f(tipID).
func (f TriggerFunc) TipFinalized(tipID string) { f(tipID) }

// Request carries the whistleblower payload for Create and Update.
type Request struct {
	ContextID   string            `json:"context_id"`
	Fields      map[string]string `json:"wb_fields"`
	ReceiverIDs []string          `json:"receivers"`
	FileIDs     []string          `json:"files"`
	Finalize    bool              `json:"finalize"`
}

// Manager implements the submission operations.
type Manager struct {
	store   *store.Store
	salt    string
	trigger Trigger
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Manager.
type Option func(*Manager)

// WithTrigger sets the post-finalize trigger.
func WithTrigger(t Trigger) Option {
	return func(m *Manager) { m.trigger = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager. salt is the node-wide receipt salt.
func New(st *store.Store, salt string, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		salt:   salt,
		logger: logging.NewComponentLogger(logger, "submission"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds a new internal tip from req. With Finalize set the tip is
// finalized in the same transaction and the view carries the receipt.
func (m *Manager) Create(ctx context.Context, req Request) (*TipView, error) {
	var view *TipView
	err := m.store.Transact(ctx, func(tx *store.Tx) error {
		c, err := tx.ContextByID(ctx, req.ContextID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %s", ErrContextNotFound, req.ContextID)
		}

		fields, err := validateFields(c, req.Fields, req.Finalize)
		if err != nil {
			return err
		}

		now := m.now()
		tip := &store.InternalTip{
			ContextID:           c.ID,
			CreationDate:        now,
			ExpirationDate:      now.Add(time.Duration(c.TipLifeSeconds()) * time.Second),
			EscalationThreshold: c.EscalationThreshold,
			AccessLimit:         c.TipMaxAccess,
			DownloadLimit:       c.FileMaxDownload,
			Mark:                store.MarkSubmission,
			Fields:              fields,
		}
		if err := tx.InsertInternalTip(ctx, tip); err != nil {
			return err
		}
		if err := importReceivers(ctx, tx, tip.ID, c, req.ReceiverIDs, req.Finalize); err != nil {
			return err
		}
		if err := importFiles(ctx, tx, tip.ID, req.FileIDs); err != nil {
			return err
		}

		plaintext := ""
		if req.Finalize {
			plaintext, err = m.finalize(ctx, tx, tip, c)
			if err != nil {
				return err
			}
		}

		view, err = loadView(ctx, tx, tip)
		if err != nil {
			return err
		}
		view.Receipt = plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("submission created",
		logging.TipID(view.ID),
		logging.String("context_id", view.ContextID),
		logging.String("mark", view.Status),
	)
	m.afterCommit(view)
	return view, nil
}

// Update mutates a tip that is still in the submission mark. The receiver
// set is replaced, files are added, and a non-empty field payload replaces
// the stored fields. The context cannot change.
func (m *Manager) Update(ctx context.Context, tipID string, req Request) (*TipView, error) {
	var view *TipView
	err := m.store.Transact(ctx, func(tx *store.Tx) error {
		tip, err := tx.InternalTipByID(ctx, tipID)
		if err != nil {
			return err
		}
		if tip == nil {
			return fmt.Errorf("%w: %s", ErrTipNotFound, tipID)
		}
		if tip.Mark != store.MarkSubmission {
			return fmt.Errorf("%w: %s is %s", ErrSubmissionConcluded, tipID, tip.Mark)
		}
		if req.ContextID != "" && req.ContextID != tip.ContextID {
			return fmt.Errorf("%w: context of %s cannot change to %s", ErrContextNotFound, tipID, req.ContextID)
		}
		c, err := tx.ContextByID(ctx, tip.ContextID)
		if err != nil {
			return err
		}
		if c == nil {
			return fmt.Errorf("%w: %s", ErrContextNotFound, tip.ContextID)
		}

		if err := tx.ClearTipReceivers(ctx, tip.ID); err != nil {
			return err
		}
		if err := importReceivers(ctx, tx, tip.ID, c, req.ReceiverIDs, req.Finalize); err != nil {
			return err
		}
		if err := importFiles(ctx, tx, tip.ID, req.FileIDs); err != nil {
			return err
		}

		fields, err := validateFields(c, req.Fields, req.Finalize)
		if err != nil {
			return err
		}
		if len(fields) > 0 {
			if err := tx.UpdateInternalTip(ctx, tip.ID, store.TipUpdate{Fields: fields}); err != nil {
				return err
			}
			tip.Fields = fields
		}

		plaintext := ""
		if req.Finalize {
			plaintext, err = m.finalize(ctx, tx, tip, c)
			if err != nil {
				return err
			}
		}

		view, err = loadView(ctx, tx, tip)
		if err != nil {
			return err
		}
		view.Receipt = plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("submission updated",
		logging.TipID(view.ID),
		logging.String("mark", view.Status),
		logging.Int("receivers", len(view.Receivers)),
		logging.Int("files", len(view.Files)),
	)
	m.afterCommit(view)
	return view, nil
}

// Get returns the current view of a tip. The receipt is never included.
func (m *Manager) Get(ctx context.Context, tipID string) (*TipView, error) {
	var view *TipView
	err := m.store.Transact(ctx, func(tx *store.Tx) error {
		tip, err := tx.InternalTipByID(ctx, tipID)
		if err != nil {
			return err
		}
		if tip == nil {
			return fmt.Errorf("%w: %s", ErrTipNotFound, tipID)
		}
		view, err = loadView(ctx, tx, tip)
		return err
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// Delete removes a tip that is still in the submission mark together with
// everything it owns. Its on-disk artifacts are removed after commit.
func (m *Manager) Delete(ctx context.Context, tipID string) error {
	var artifacts []string
	err := m.store.Transact(ctx, func(tx *store.Tx) error {
		tip, err := tx.InternalTipByID(ctx, tipID)
		if err != nil {
			return err
		}
		if tip == nil {
			return fmt.Errorf("%w: %s", ErrTipNotFound, tipID)
		}
		if tip.Mark != store.MarkSubmission {
			return fmt.Errorf("%w: %s is %s", ErrSubmissionConcluded, tipID, tip.Mark)
		}
		artifacts, err = tx.CascadeDelete(ctx, tipID)
		return err
	})
	if err != nil {
		return err
	}

	if _, err := attachments.RemoveArtifacts(artifacts); err != nil {
		logging.WarnWithContext(m.logger, "artifact removal failed", "artifact_cleanup",
			logging.TipID(tipID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned files remain in the attachments directory"),
		)
	}
	m.logger.Info("submission deleted", logging.TipID(tipID), logging.Int("artifacts", len(artifacts)))
	return nil
}

// AccessByReceipt authenticates a whistleblower by receipt and returns the
// view of the tip it unlocks.
func (m *Manager) AccessByReceipt(ctx context.Context, plaintext string) (*TipView, error) {
	plaintext = strings.TrimSpace(plaintext)
	hash, err := receipt.Hash(plaintext, m.salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}

	var view *TipView
	err = m.store.Transact(ctx, func(tx *store.Tx) error {
		wb, err := tx.WhistleblowerTipByReceiptHash(ctx, hash)
		if err != nil {
			return err
		}
		if wb == nil || !receipt.Verify(plaintext, m.salt, wb.ReceiptHash) {
			return ErrInvalidReceipt
		}
		tip, err := tx.InternalTipByID(ctx, wb.InternalTipID)
		if err != nil {
			return err
		}
		if tip == nil {
			return ErrInvalidReceipt
		}
		now := m.now()
		if err := tx.TouchWhistleblowerTip(ctx, wb.ID, now); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, tip)
		if err != nil {
			return err
		}
		view.AccessCounter = wb.AccessCounter + 1
		view.LastAccess = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// CommentByReceipt adds a whistleblower comment to the finalized tip the
// receipt unlocks. Receivers are notified by the notification job.
func (m *Manager) CommentByReceipt(ctx context.Context, plaintext, content string) (*store.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("%w: comment is empty", ErrMissingRequiredField)
	}
	hash, err := receipt.Hash(strings.TrimSpace(plaintext), m.salt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidReceipt, err)
	}

	var comment *store.Comment
	err = m.store.Transact(ctx, func(tx *store.Tx) error {
		wb, err := tx.WhistleblowerTipByReceiptHash(ctx, hash)
		if err != nil {
			return err
		}
		if wb == nil {
			return ErrInvalidReceipt
		}
		comment = &store.Comment{
			InternalTipID: wb.InternalTipID,
			AuthorID:      wb.ID,
			Type:          store.CommentWhistleblower,
			Content:       content,
			CreationDate:  m.now(),
		}
		return tx.AddComment(ctx, comment)
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("whistleblower comment added", logging.TipID(comment.InternalTipID))
	return comment, nil
}

// finalize advances the tip to the finalized mark and creates its
// whistleblower access record. It returns the plaintext receipt.
func (m *Manager) finalize(ctx context.Context, tx *store.Tx, tip *store.InternalTip, c *store.Context) (string, error) {
	if tip.Mark == store.MarkSubmission {
		advanced, err := tx.AdvanceMark(ctx, tip.ID, store.MarkSubmission, store.MarkFinalized)
		if err != nil {
			return "", err
		}
		if !advanced {
			return "", fmt.Errorf("%w: %s", ErrSubmissionConcluded, tip.ID)
		}
		tip.Mark = store.MarkFinalized
	}

	existing, err := tx.WhistleblowerTipByTip(ctx, tip.ID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return "", fmt.Errorf("%w: receipt already issued for %s", ErrSubmissionConcluded, tip.ID)
	}

	pattern := c.ReceiptRegexp
	if pattern == "" {
		pattern = receipt.DefaultPattern
	}
	for attempt := 0; attempt < receiptAttempts; attempt++ {
		plaintext, err := receipt.Generate(pattern)
		if err != nil {
			return "", fmt.Errorf("generate receipt: %w", err)
		}
		hash, err := receipt.Hash(plaintext, m.salt)
		if err != nil {
			return "", err
		}
		clash, err := tx.WhistleblowerTipByReceiptHash(ctx, hash)
		if err != nil {
			return "", err
		}
		if clash != nil {
			continue
		}
		wb := &store.WhistleblowerTip{
			InternalTipID: tip.ID,
			ReceiptHash:   hash,
			CreationDate:  m.now(),
		}
		if err := tx.InsertWhistleblowerTip(ctx, wb); err != nil {
			return "", err
		}
		return plaintext, nil
	}
	return "", fmt.Errorf("generate receipt: %d collisions for pattern %q", receiptAttempts, pattern)
}

func (m *Manager) afterCommit(view *TipView) {
	if view.Receipt == "" || m.trigger == nil {
		return
	}
	m.trigger.TipFinalized(view.ID)
}
