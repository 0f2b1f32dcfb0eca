package jobs

import (
	"context"
	"log/slog"
	"time"

	"tipline/internal/logging"
	"tipline/internal/store"
)

// StatisticsName is the registered name of the statistics job.
const StatisticsName = "statistics"

// Statistics snapshots table counts into the stats table on every run.
func Statistics(st *store.Store, logger *slog.Logger) Job {
	logger = logging.NewComponentLogger(logger, StatisticsName)
	return NewJob(StatisticsName, func(ctx context.Context) error {
		var record *store.StatsRecord
		err := st.Transact(ctx, func(tx *store.Tx) error {
			counts, err := tx.Counts(ctx)
			if err != nil {
				return err
			}
			record, err = tx.InsertStats(ctx, time.Now().UTC(), counts)
			return err
		})
		if err != nil {
			return err
		}
		logger.Info("statistics recorded",
			logging.String("stats_id", record.ID),
			logging.Int("receiver_tips", record.Summary.ReceiverTips),
			logging.Int("pending_notifications", record.Summary.PendingMail),
		)
		return nil
	})
}
