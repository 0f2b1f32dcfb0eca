package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tipline/internal/encryption"
	"tipline/internal/logging"
	"tipline/internal/services"
	"tipline/internal/store"
)

// Scheduler runs delivery fan-out against the tip store.
type Scheduler struct {
	store     *store.Store
	encryptor encryption.Encryptor
	dir       string
	logger    *slog.Logger
	now       func() time.Time
}

// New constructs a Scheduler writing encrypted artifacts under attachmentsDir.
func New(st *store.Store, enc encryption.Encryptor, attachmentsDir string, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:     st,
		encryptor: enc,
		dir:       attachmentsDir,
		logger:    logging.NewComponentLogger(logger, "delivery"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunResult summarizes one delivery tick.
type RunResult struct {
	Tips          int
	ReceiverTips  int
	FileTips      int
	Files         FileResult
	Failures      int
	FailedTipIDs  []string
	ElapsedMillis int64
}

// FanOutReceiverTips ensures a receiver tip exists for every receiver of a
// finalized tip and returns the ids of all its receiver tips. The tip moves
// from finalized to first level in the same transaction.
func (s *Scheduler) FanOutReceiverTips(ctx context.Context, tipID string) ([]string, error) {
	var (
		ids     []string
		created int
	)
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		created = 0
		tip, err := requireFinalized(ctx, tx, tipID)
		if err != nil {
			return err
		}
		receivers, err := tx.TipReceiverIDs(ctx, tip.ID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, rid := range receivers {
			inserted, err := tx.EnsureReceiverTip(ctx, tip.ID, rid, now)
			if err != nil {
				return err
			}
			if inserted {
				created++
			}
		}
		if _, err := tx.AdvanceMark(ctx, tip.ID, store.MarkFinalized, store.MarkFirstLevel); err != nil {
			return err
		}
		ids, err = tx.ReceiverTipIDs(ctx, tip.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if created > 0 {
		s.logger.Info("receiver tips created",
			logging.TipID(tipID),
			logging.Int("created", created),
			logging.Int("total", len(ids)),
		)
	}
	return ids, nil
}

// Deliver runs both fan-outs for one tip. It is the post-finalize entry point.
func (s *Scheduler) Deliver(ctx context.Context, tipID string) error {
	if _, err := s.FanOutReceiverTips(ctx, tipID); err != nil {
		return err
	}
	_, err := s.FanOutFiles(ctx, tipID)
	return err
}

// Run performs one delivery tick over every tip with outstanding work.
// Per-tip failures are logged and counted; the tick always completes.
func (s *Scheduler) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	var (
		result   RunResult
		pending  []string
		withFile []string
	)
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		pending, err = tx.TipsByMark(ctx, store.MarkFinalized)
		if err != nil {
			return err
		}
		withFile, err = tx.TipsWithPendingFiles(ctx)
		return err
	})
	if err != nil {
		return result, fmt.Errorf("list pending deliveries: %w", err)
	}

	for _, tipID := range pending {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		ids, err := s.FanOutReceiverTips(ctx, tipID)
		if err != nil {
			s.recordFailure(ctx, &result, tipID, "receiver_tip_fanout_failed", err)
			continue
		}
		result.Tips++
		result.ReceiverTips += len(ids)
	}

	for _, tipID := range withFile {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		files, err := s.FanOutFiles(ctx, tipID)
		if err != nil {
			s.recordFailure(ctx, &result, tipID, "file_fanout_failed", err)
			continue
		}
		result.FileTips++
		result.Files.add(files)
	}

	result.ElapsedMillis = time.Since(start).Milliseconds()
	if result.Tips > 0 || result.FileTips > 0 || result.Failures > 0 {
		s.logger.Info("delivery tick complete",
			logging.Int("tips", result.Tips),
			logging.Int("file_tips", result.FileTips),
			logging.Int("failures", result.Failures),
			logging.Int64("elapsed_ms", result.ElapsedMillis),
		)
	}
	return result, nil
}

func (s *Scheduler) recordFailure(ctx context.Context, result *RunResult, tipID, event string, err error) {
	result.Failures++
	result.FailedTipIDs = append(result.FailedTipIDs, tipID)
	logging.ErrorWithContext(logging.WithContext(services.WithTipID(ctx, tipID), s.logger),
		"delivery failed for tip", event,
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "the next delivery tick retries this tip"),
	)
}

func requireFinalized(ctx context.Context, tx *store.Tx, tipID string) (*store.InternalTip, error) {
	tip, err := tx.InternalTipByID(ctx, tipID)
	if err != nil {
		return nil, err
	}
	if tip == nil {
		return nil, services.Wrap(services.ErrNotFound, "delivery", "load tip", tipID, nil)
	}
	if tip.Mark == store.MarkSubmission {
		return nil, services.Wrap(services.ErrStateConflict, "delivery", "load tip", tipID+" is not finalized", nil)
	}
	return tip, nil
}

func isKeyError(err error) bool {
	return errors.Is(err, services.ErrKeyInvalid)
}
