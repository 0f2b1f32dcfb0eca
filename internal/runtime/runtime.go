package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tipline/internal/attachments"
	"tipline/internal/catalog"
	"tipline/internal/cleaning"
	"tipline/internal/config"
	"tipline/internal/delivery"
	"tipline/internal/encryption"
	"tipline/internal/jobs"
	"tipline/internal/logging"
	"tipline/internal/notifications"
	"tipline/internal/services"
	"tipline/internal/store"
	"tipline/internal/submission"
)

// Job names registered by Open.
const (
	DeliveryJob     = "delivery"
	NotificationJob = "notification"
	CleaningJob     = "cleaning"
)

// Runtime is the explicit process context shared by the daemon and the CLI.
type Runtime struct {
	Config  *config.Config
	Logger  *slog.Logger
	Store   *store.Store
	Catalog *catalog.Catalog

	Encryptor     encryption.Encryptor
	Mailer        notifications.Mailer
	Alerter       notifications.Alerter
	Uploads       *attachments.Uploads
	Submissions   *submission.Manager
	Delivery      *delivery.Scheduler
	Notifications *notifications.Scheduler
	Sweeper       *cleaning.Sweeper
	Jobs          *jobs.Scheduler
}

// Option customises Open.
type Option func(*options)

type options struct {
	mailer  notifications.Mailer
	alerter notifications.Alerter
}

// WithMailer overrides the mailer derived from configuration.
func WithMailer(m notifications.Mailer) Option {
	return func(o *options) { o.mailer = m }
}

// WithAlerter overrides the alerter derived from configuration.
func WithAlerter(a notifications.Alerter) Option {
	return func(o *options) { o.alerter = a }
}

// Open builds every component and registers the periodic jobs. The jobs
// scheduler is not started; the daemon owns that.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "runtime", "open", "config is required", nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "runtime", "open", "prepare directories", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	rt := &Runtime{
		Config:    cfg,
		Logger:    logger,
		Store:     st,
		Catalog:   catalog.New(st, logger),
		Encryptor: encryption.NewAge(),
		Mailer:    o.mailer,
		Alerter:   o.alerter,
	}
	if rt.Mailer == nil {
		rt.Mailer = notifications.NewMailer(cfg)
	}
	if rt.Alerter == nil {
		rt.Alerter = notifications.NewAlerter(cfg)
	}

	rt.Jobs = jobs.NewScheduler(logger)
	rt.Uploads = attachments.New(cfg.Paths.AttachmentsDir, st, logger)
	rt.Delivery = delivery.New(st, rt.Encryptor, cfg.Paths.AttachmentsDir, logger)
	rt.Notifications = notifications.New(st, rt.Mailer, rt.Encryptor, cfg, logger)
	rt.Sweeper = cleaning.New(st, logger, cleaning.WithAlerter(rt.Alerter))
	rt.Submissions = submission.New(st, cfg.Node.ReceiptSalt, logger,
		submission.WithTrigger(submission.TriggerFunc(rt.tipFinalized)))

	if err := rt.registerJobs(); err != nil {
		_ = st.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) registerJobs() error {
	sched := rt.Config.Scheduler
	registrations := []struct {
		job     jobs.Job
		seconds int
	}{
		{jobs.NewJob(DeliveryJob, rt.runDelivery), sched.DeliveryInterval},
		{jobs.NewJob(NotificationJob, rt.runNotifications), sched.NotificationInterval},
		{jobs.NewJob(CleaningJob, rt.runCleaning), sched.CleaningInterval},
		{jobs.Statistics(rt.Store, rt.Logger), sched.StatisticsInterval},
		{jobs.KeyCheck(rt.Store, rt.Alerter, rt.Mailer, rt.Config.Node.Name, rt.Logger), sched.KeyCheckInterval},
	}
	for _, reg := range registrations {
		if err := rt.Jobs.Register(reg.job, config.Interval(reg.seconds)); err != nil {
			return services.Wrap(services.ErrConfiguration, "runtime", "register jobs", reg.job.Name(), err)
		}
	}
	return nil
}

// Recover repairs state left behind by an unclean shutdown.
func (rt *Runtime) Recover(ctx context.Context) error {
	reset, err := rt.Notifications.Recover(ctx)
	if err != nil {
		return err
	}
	if reset > 0 {
		rt.Logger.Info("reset in-flight notifications", logging.Int64("count", reset))
	}
	return nil
}

// tipFinalized runs after a whistleblower finalizes a tip. Delivery and the
// first notification pass are scheduled shortly after; the periodic jobs
// cover anything these one-shot tasks miss.
func (rt *Runtime) tipFinalized(tipID string) {
	sched := rt.Config.Scheduler
	rt.Jobs.Schedule(config.Interval(sched.DeliveryDelay), DeliveryJob, func(ctx context.Context) error {
		return rt.Delivery.Deliver(services.WithTipID(ctx, tipID), tipID)
	})
	rt.Jobs.Schedule(config.Interval(sched.NotificationDelay), NotificationJob, func(ctx context.Context) error {
		_, err := rt.Notifications.Run(ctx)
		return err
	})
}

func (rt *Runtime) runDelivery(ctx context.Context) error {
	result, err := rt.Delivery.Run(ctx)
	if err != nil {
		return err
	}
	if result.Failures > 0 {
		return fmt.Errorf("delivery failed for %d tips", result.Failures)
	}
	return nil
}

func (rt *Runtime) runNotifications(ctx context.Context) error {
	_, err := rt.Notifications.Run(ctx)
	return err
}

func (rt *Runtime) runCleaning(ctx context.Context) error {
	result, err := rt.Sweeper.Sweep(ctx)
	if err != nil {
		if alertErr := rt.Alerter.NotifyError(ctx, err, "cleaning"); alertErr != nil {
			rt.Logger.Debug("error alert failed", logging.Error(alertErr))
		}
		return err
	}
	if result.Failed > 0 {
		return fmt.Errorf("cleaning failed for %d tips", result.Failed)
	}
	return nil
}

// Close stops the jobs scheduler and releases the store.
func (rt *Runtime) Close() error {
	if rt == nil {
		return nil
	}
	var errs []error
	if rt.Jobs != nil {
		rt.Jobs.Stop()
	}
	if rt.Store != nil {
		errs = append(errs, rt.Store.Close())
	}
	return errors.Join(errs...)
}
