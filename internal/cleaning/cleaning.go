package cleaning

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tipline/internal/attachments"
	"tipline/internal/logging"
	"tipline/internal/notifications"
	"tipline/internal/services"
	"tipline/internal/store"
)

// DefaultOrphanAge is how long an unattached upload is kept.
const DefaultOrphanAge = 24 * time.Hour

// Sweeper runs the expiry sweep.
type Sweeper struct {
	store     *store.Store
	alerter   notifications.Alerter
	logger    *slog.Logger
	now       func() time.Time
	orphanAge time.Duration
}

// Option customizes a Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithAlerter publishes a summary when a sweep has failures.
func WithAlerter(a notifications.Alerter) Option {
	return func(s *Sweeper) { s.alerter = a }
}

// WithOrphanAge overrides DefaultOrphanAge. Values <= 0 disable orphan removal.
func WithOrphanAge(d time.Duration) Option {
	return func(s *Sweeper) { s.orphanAge = d }
}

// New constructs a Sweeper.
func New(st *store.Store, logger *slog.Logger, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:     st,
		logger:    logging.NewComponentLogger(logger, "cleaning"),
		now:       time.Now,
		orphanAge: DefaultOrphanAge,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Scanned          int
	Expired          int
	Deleted          int
	Failed           int
	FailedIDs        []string
	Artifacts        int
	ArtifactFailures int
	Orphans          int
	Elapsed          time.Duration
}

// IsExpired reports whether an entity created at creation with a lifetime of
// lifeSeconds has expired at now. The comparison keeps full sub-second
// precision, so a lifetime of zero is expired for any creation <= now.
func IsExpired(now, creation time.Time, lifeSeconds int64) bool {
	if lifeSeconds < 0 {
		return true
	}
	if lifeSeconds > int64(math.MaxInt64/time.Second) {
		return false
	}
	return now.Sub(creation) >= time.Duration(lifeSeconds)*time.Second
}

// ListExpirableByMark projects every tip in mark onto its creation date and
// the time-to-live currently configured on its context.
func (s *Sweeper) ListExpirableByMark(ctx context.Context, mark store.Mark) ([]store.Expirable, error) {
	var out []store.Expirable
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		out, err = tx.ExpirableByMark(ctx, mark)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list expirable %s tips: %w", mark, err)
	}
	return out, nil
}

// Delete cascade-deletes one tip and removes its artifacts after commit.
// Deleting a tip that no longer exists is a no-op. The returned count is the
// number of artifacts removed.
func (s *Sweeper) Delete(ctx context.Context, tipID string) (int, error) {
	var artifacts []string
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		artifacts, err = tx.CascadeDelete(ctx, tipID)
		return err
	})
	if err != nil {
		return 0, err
	}
	removed, err := attachments.RemoveArtifacts(artifacts)
	if err != nil {
		return removed, services.Wrap(services.ErrTransient, "cleaning", "remove artifacts", tipID, err)
	}
	return removed, nil
}

// Sweep deletes every expired tip. It only returns an error when ctx is
// cancelled; per-tip failures are reported in the result.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	var result SweepResult

	for _, mark := range store.Marks {
		items, err := s.ListExpirableByMark(ctx, mark)
		if err != nil {
			result.Failed++
			logging.ErrorWithContext(s.logger, "expirable listing failed", "cleaning_list_failed",
				logging.String("mark", mark.String()),
				logging.Error(err),
			)
			continue
		}
		result.Scanned += len(items)

		for _, item := range items {
			if err := ctx.Err(); err != nil {
				result.Elapsed = time.Since(start)
				return result, err
			}
			if !IsExpired(s.now(), item.CreationDate, item.LifeSeconds) {
				continue
			}
			result.Expired++
			s.deleteExpired(ctx, &result, mark, item)
		}
	}

	s.removeOrphans(ctx, &result)

	result.Elapsed = time.Since(start)
	if result.Deleted > 0 || result.Failed > 0 || result.Orphans > 0 {
		s.logger.Info("expiry sweep complete",
			logging.Int("scanned", result.Scanned),
			logging.Int("deleted", result.Deleted),
			logging.Int("failed", result.Failed),
			logging.Int("artifacts", result.Artifacts),
			logging.Int("orphans", result.Orphans),
			logging.Duration("elapsed", result.Elapsed),
		)
	}
	if s.alerter != nil && result.Failed > 0 {
		if err := s.alerter.NotifySweepCompleted(ctx, result.Deleted, result.Failed, result.Elapsed); err != nil {
			s.logger.Debug("sweep alert failed", logging.Error(err))
		}
	}
	return result, nil
}

func (s *Sweeper) deleteExpired(ctx context.Context, result *SweepResult, mark store.Mark, item store.Expirable) {
	logger := logging.WithContext(services.WithTipID(ctx, item.ID), s.logger)

	var artifacts []string
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		artifacts, err = tx.CascadeDelete(ctx, item.ID)
		return err
	})
	if err != nil {
		result.Failed++
		result.FailedIDs = append(result.FailedIDs, item.ID)
		logging.ErrorWithContext(logger, "expired tip deletion failed", "cleaning_delete_failed",
			logging.String("mark", mark.String()),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the next sweep retries this tip"),
		)
		return
	}
	result.Deleted++

	removed, err := attachments.RemoveArtifacts(artifacts)
	result.Artifacts += removed
	if err != nil {
		result.ArtifactFailures++
		result.Failed++
		result.FailedIDs = append(result.FailedIDs, item.ID)
		logging.WarnWithContext(logger, "artifact removal failed", "cleaning_artifact_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "tip deleted but files remain on disk"),
			logging.String(logging.FieldErrorHint, "remove the listed files manually"),
		)
		return
	}
	logger.Debug("expired tip deleted",
		logging.String("mark", mark.String()),
		logging.Int("artifacts", removed),
	)
}

func (s *Sweeper) removeOrphans(ctx context.Context, result *SweepResult) {
	if s.orphanAge <= 0 {
		return
	}
	cutoff := s.now().Add(-s.orphanAge)

	var orphans []*store.InternalFile
	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		var err error
		orphans, err = tx.OrphanFilesBefore(ctx, cutoff)
		return err
	})
	if err != nil {
		logging.WarnWithContext(s.logger, "orphan upload listing failed", "cleaning_orphans_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "unattached uploads kept until the next sweep"),
		)
		return
	}

	for _, f := range orphans {
		var deleted bool
		err := s.store.Transact(ctx, func(tx *store.Tx) error {
			var err error
			deleted, err = tx.DeleteOrphanFile(ctx, f.ID)
			return err
		})
		if err != nil || !deleted {
			if err != nil {
				s.logger.Warn("orphan upload deletion failed", logging.FileID(f.ID), logging.Error(err))
			}
			continue
		}
		if _, err := attachments.RemoveArtifacts([]string{f.FilePath}); err != nil {
			s.logger.Warn("orphan upload file removal failed", logging.FileID(f.ID), logging.Error(err))
		}
		result.Orphans++
	}
}
