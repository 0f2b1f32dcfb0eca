package jobs

import (
	"context"
	"log/slog"

	"tipline/internal/encryption"
	"tipline/internal/logging"
	"tipline/internal/notifications"
	"tipline/internal/store"
)

// KeyCheckName is the registered name of the key check job.
const KeyCheckName = "keycheck"

// KeyCheck re-validates every receiver's age recipient. Receivers whose key
// stopped parsing are flagged invalid, warned by mail and reported to the
// operator; repaired keys are flagged valid again.
func KeyCheck(st *store.Store, alerter notifications.Alerter, mailer notifications.Mailer, node string, logger *slog.Logger) Job {
	logger = logging.NewComponentLogger(logger, KeyCheckName)
	return NewJob(KeyCheckName, func(ctx context.Context) error {
		var invalidated []*store.Receiver
		err := st.Transact(ctx, func(tx *store.Tx) error {
			invalidated = invalidated[:0]
			receivers, err := tx.Receivers(ctx)
			if err != nil {
				return err
			}
			for _, r := range receivers {
				want := store.KeyNone
				if r.AgeRecipient != "" {
					want = store.KeyValid
					if _, err := encryption.ParseRecipient(r.AgeRecipient); err != nil {
						want = store.KeyInvalid
					}
				}
				if want == r.KeyStatus {
					continue
				}
				if err := tx.SetReceiverKeyStatus(ctx, r.ID, want); err != nil {
					return err
				}
				if want == store.KeyInvalid {
					invalidated = append(invalidated, r)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, r := range invalidated {
			logging.WarnWithContext(logger, "receiver key invalid", "receiver_key_invalid",
				logging.ReceiverID(r.ID),
				logging.Alert("receiver_key"),
				logging.String(logging.FieldImpact, "new files for this receiver are marked unreadable"),
				logging.String(logging.FieldErrorHint, "ask the receiver for a new age recipient"),
			)
			warnReceiver(ctx, mailer, node, r, logger)
			if alerter != nil {
				if err := alerter.NotifyKeyInvalid(ctx, r.Name); err != nil {
					logger.Debug("key alert failed", logging.Error(err))
				}
			}
		}
		return nil
	})
}

func warnReceiver(ctx context.Context, mailer notifications.Mailer, node string, r *store.Receiver, logger *slog.Logger) {
	if mailer == nil || r.Email == "" {
		return
	}
	msg, err := notifications.KeyInvalidMessage(node, r)
	if err == nil {
		err = mailer.Send(ctx, msg)
	}
	if err != nil {
		logging.WarnWithContext(logger, "receiver key warning not sent", "key_warning_failed",
			logging.ReceiverID(r.ID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "receiver is unaware their key was rejected"),
			logging.String(logging.FieldErrorHint, "check smtp settings with tipline test-notify --mail"),
		)
	}
}
