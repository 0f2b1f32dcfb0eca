package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"tipline/internal/config"
	"tipline/internal/encryption"
	"tipline/internal/logging"
	"tipline/internal/store"
)

// Scheduler sends receiver notifications for pending lifecycle events.
type Scheduler struct {
	store      *store.Store
	mailer     Mailer
	encryptor  encryption.Encryptor
	logger     *slog.Logger
	nodeName   string
	tipSubject string
	now        func() time.Time
}

// New constructs a Scheduler.
func New(st *store.Store, mailer Mailer, enc encryption.Encryptor, cfg *config.Config, logger *slog.Logger) *Scheduler {
	if mailer == nil {
		mailer = NopMailer{}
	}
	return &Scheduler{
		store:      st,
		mailer:     mailer,
		encryptor:  enc,
		logger:     logging.NewComponentLogger(logger, "notifications"),
		nodeName:   cfg.Node.Name,
		tipSubject: cfg.SMTP.TipSubject,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Counts tallies one notification queue.
type Counts struct {
	Sent   int
	Failed int
}

// RunResult summarizes one notification tick.
type RunResult struct {
	Tips     Counts
	Comments Counts
	Files    Counts
}

// outgoing is a mail prepared inside a claim transaction and rendered after it.
type outgoing struct {
	receiver *store.Receiver
	subject  string
	tmpl     *template.Template
	data     mailData
}

// Recover returns rows left in the notifying state by an interrupted process
// to the pending state. It must run before the first tick.
func (s *Scheduler) Recover(ctx context.Context) (int64, error) {
	var reset int64
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		reset, err = tx.ResetInFlightNotifications(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		logging.WarnWithContext(s.logger, "in-flight notifications reset", "notification_recovered",
			logging.Int64("rows", reset),
			logging.String(logging.FieldImpact, "some receivers may get a duplicate mail"),
		)
	}
	return reset, nil
}

// Run performs one notification tick over the three queues. Failures are
// recorded on the row and logged; they never stop the tick.
func (s *Scheduler) Run(ctx context.Context) (RunResult, error) {
	var result RunResult
	if err := s.runReceiverTips(ctx, &result.Tips); err != nil {
		return result, err
	}
	if err := s.runComments(ctx, &result.Comments); err != nil {
		return result, err
	}
	if err := s.runFiles(ctx, &result.Files); err != nil {
		return result, err
	}
	total := result.Tips.Sent + result.Comments.Sent + result.Files.Sent
	failed := result.Tips.Failed + result.Comments.Failed + result.Files.Failed
	if total > 0 || failed > 0 {
		s.logger.Info("notification tick complete",
			logging.Int("sent", total),
			logging.Int("failed", failed),
		)
	}
	return result, nil
}

func (s *Scheduler) runReceiverTips(ctx context.Context, counts *Counts) error {
	var pending []*store.ReceiverTip
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.ReceiverTipsByMark(ctx, store.NotificationPending)
		return err
	})
	if err != nil {
		return fmt.Errorf("list pending receiver tips: %w", err)
	}

	for _, rt := range pending {
		s.process(ctx, counts, "receiver_tip", rt.ID,
			func(tx *store.Tx) ([]outgoing, bool, error) {
				claimed, err := tx.ClaimReceiverTipNotification(ctx, rt.ID)
				if err != nil || !claimed {
					return nil, false, err
				}
				r, err := tx.ReceiverByID(ctx, rt.ReceiverID)
				if err != nil {
					return nil, true, err
				}
				tip, err := tx.InternalTipByID(ctx, rt.InternalTipID)
				if err != nil {
					return nil, true, err
				}
				if r == nil || tip == nil {
					return nil, true, errors.New("receiver or tip vanished")
				}
				contextName := tip.ContextID
				if c, err := tx.ContextByID(ctx, tip.ContextID); err == nil && c != nil {
					contextName = c.Name
				}
				return []outgoing{{
					receiver: r,
					subject:  s.tipSubject,
					tmpl:     tipTemplate,
					data: mailData{
						Context: contextName,
						TipID:   tip.ID,
						Date:    formatDate(tip.CreationDate),
						Expires: formatDate(tip.ExpirationDate),
					},
				}}, true, nil
			},
			func(tx *store.Tx, outcome store.NotificationMark) error {
				return tx.FinishReceiverTipNotification(ctx, rt.ID, outcome, s.now())
			},
		)
	}
	return nil
}

func (s *Scheduler) runComments(ctx context.Context, counts *Counts) error {
	var pending []*store.Comment
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.CommentsPendingNotification(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list pending comments: %w", err)
	}

	for _, c := range pending {
		s.process(ctx, counts, "comment", c.ID,
			func(tx *store.Tx) ([]outgoing, bool, error) {
				claimed, err := tx.ClaimCommentNotification(ctx, c.ID)
				if err != nil || !claimed {
					return nil, false, err
				}
				ids, err := tx.TipReceiverIDs(ctx, c.InternalTipID)
				if err != nil {
					return nil, true, err
				}
				receivers, err := tx.ReceiversByIDs(ctx, ids)
				if err != nil {
					return nil, true, err
				}
				mails := make([]outgoing, 0, len(receivers))
				for _, r := range receivers {
					if r.ID == c.AuthorID {
						continue
					}
					mails = append(mails, outgoing{
						receiver: r,
						subject:  "New comment",
						tmpl:     commentTemplate,
						data: mailData{
							TipID:       c.InternalTipID,
							Date:        formatDate(c.CreationDate),
							CommentType: string(c.Type),
						},
					})
				}
				return mails, true, nil
			},
			func(tx *store.Tx, outcome store.NotificationMark) error {
				return tx.FinishCommentNotification(ctx, c.ID, outcome)
			},
		)
	}
	return nil
}

func (s *Scheduler) runFiles(ctx context.Context, counts *Counts) error {
	var pending []*store.ReceiverFile
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.ReceiverFilesPendingNotification(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("list pending receiver files: %w", err)
	}

	for _, rf := range pending {
		s.process(ctx, counts, "receiver_file", rf.ID,
			func(tx *store.Tx) ([]outgoing, bool, error) {
				claimed, err := tx.ClaimReceiverFileNotification(ctx, rf.ID)
				if err != nil || !claimed {
					return nil, false, err
				}
				r, err := tx.ReceiverByID(ctx, rf.ReceiverID)
				if err != nil {
					return nil, true, err
				}
				f, err := tx.InternalFileByID(ctx, rf.InternalFileID)
				if err != nil {
					return nil, true, err
				}
				if r == nil || f == nil {
					return nil, true, errors.New("receiver or file vanished")
				}
				return []outgoing{{
					receiver: r,
					subject:  "File delivered",
					tmpl:     fileTemplate,
					data: mailData{
						TipID:    rf.InternalTipID,
						FileName: f.Name,
						Status:   string(rf.Status),
					},
				}}, true, nil
			},
			func(tx *store.Tx, outcome store.NotificationMark) error {
				return tx.FinishReceiverFileNotification(ctx, rf.ID, outcome)
			},
		)
	}
	return nil
}

// process claims one row, sends its mails with no transaction open, and
// records the outcome. A row whose claim is lost to another worker is skipped.
func (s *Scheduler) process(
	ctx context.Context,
	counts *Counts,
	kind, id string,
	claim func(*store.Tx) ([]outgoing, bool, error),
	finish func(*store.Tx, store.NotificationMark) error,
) {
	logger := s.logger.With(logging.String("kind", kind), logging.String("row_id", id))

	var (
		mails    []outgoing
		claimed  bool
		claimErr error
	)
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		mails, claimed, claimErr = claim(tx)
		if claimErr != nil && !claimed {
			return claimErr
		}
		return nil
	})
	if err != nil {
		logging.WarnWithContext(logger, "notification claim failed", "notification_claim_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "retried on the next tick"),
		)
		return
	}
	if !claimed {
		return
	}

	outcome := store.NotificationSent
	if claimErr != nil {
		outcome = store.NotificationFailed
		logging.WarnWithContext(logger, "notification could not be prepared", "notification_prepare_failed",
			logging.Error(claimErr),
			logging.String(logging.FieldImpact, "receiver not notified"),
		)
	}
	for _, mail := range mails {
		if err := s.send(ctx, mail); err != nil {
			outcome = store.NotificationFailed
			logging.WarnWithContext(logger.With(logging.ReceiverID(mail.receiver.ID)), "notification send failed", "notification_send_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "receiver not notified"),
				logging.String(logging.FieldErrorHint, "check smtp settings"),
			)
		}
	}

	err = s.store.Transact(ctx, func(tx *store.Tx) error {
		return finish(tx, outcome)
	})
	if err != nil {
		logging.ErrorWithContext(logger, "notification outcome not recorded", "notification_finish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "row stays in notifying until the next daemon start"),
		)
	}

	if outcome == store.NotificationSent {
		counts.Sent++
	} else {
		counts.Failed++
	}
}

func (s *Scheduler) send(ctx context.Context, mail outgoing) error {
	mail.data.Node = s.nodeName
	mail.data.Receiver = mail.receiver.Name
	body, err := renderTemplate(mail.tmpl, mail.data)
	if err != nil {
		return err
	}
	if mail.receiver.EncryptNotifications {
		if !mail.receiver.HasUsableKey() {
			return fmt.Errorf("receiver %s requires encrypted mail but has no usable key", mail.receiver.ID)
		}
		body, err = s.encryptor.EncryptText(body, mail.receiver.AgeRecipient)
		if err != nil {
			return err
		}
	}
	return s.mailer.Send(ctx, Message{To: mail.receiver.Email, Subject: mail.subject, Body: body})
}
