package jobs_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tipline/internal/jobs"
	"tipline/internal/logging"
	"tipline/internal/notifications"
	"tipline/internal/services"
	"tipline/internal/store"
	"tipline/internal/testsupport"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestRegisterRejectsDuplicatesAndBadIntervals(t *testing.T) {
	s := jobs.NewScheduler(logging.NewNop())
	noop := jobs.NewJob("noop", func(context.Context) error { return nil })
	if err := s.Register(noop, time.Second); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register(noop, time.Second); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := s.Register(jobs.NewJob("zero", func(context.Context) error { return nil }), 0); err == nil {
		t.Fatal("expected zero interval to fail")
	}
}

func TestJobsTickAndSurvivePanics(t *testing.T) {
	s := jobs.NewScheduler(logging.NewNop())
	var ticks, panics atomic.Int32
	_ = s.Register(jobs.NewJob("ticker", func(ctx context.Context) error {
		if job, _ := services.JobFromContext(ctx); job != "ticker" {
			t.Errorf("expected job name in context, got %q", job)
		}
		ticks.Add(1)
		return nil
	}), 10*time.Millisecond)
	_ = s.Register(jobs.NewJob("panicky", func(context.Context) error {
		panics.Add(1)
		panic("boom")
	}), 10*time.Millisecond)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 3 && panics.Load() >= 3 })
	s.Stop()

	for _, st := range s.Status() {
		if st.Name == "panicky" && (st.Failures < 3 || st.LastError == "") {
			t.Fatalf("expected recorded panics, got %+v", st)
		}
		if st.Name == "ticker" && st.Failures != 0 {
			t.Fatalf("ticker should not fail, got %+v", st)
		}
	}
}

func TestTriggerRunsImmediately(t *testing.T) {
	s := jobs.NewScheduler(logging.NewNop())
	ran := make(chan struct{}, 4)
	_ = s.Register(jobs.NewJob("slow", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}), time.Hour)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if !s.Trigger("slow") {
		t.Fatal("Trigger returned false for a registered job")
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job did not run")
	}
	if s.Trigger("missing") {
		t.Fatal("Trigger returned true for an unknown job")
	}
}

func TestScheduleAndCancel(t *testing.T) {
	s := jobs.NewScheduler(logging.NewNop())
	if h := s.Schedule(time.Millisecond, "early", func(context.Context) error { return nil }); h != 0 {
		t.Fatal("Schedule before Start must return the zero handle")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var mu sync.Mutex
	var ran []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			ran = append(ran, name)
			return errors.New("logged, not fatal")
		}
	}

	kept := s.Schedule(10*time.Millisecond, "kept", record("kept"))
	dropped := s.Schedule(time.Hour, "dropped", record("dropped"))
	if kept == 0 || dropped == 0 || kept == dropped {
		t.Fatalf("unexpected handles %d %d", kept, dropped)
	}
	if !s.Cancel(dropped) {
		t.Fatal("Cancel of a pending task returned false")
	}
	if s.Cancel(dropped) {
		t.Fatal("second Cancel must return false")
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	})
	if s.Pending() != 0 {
		t.Fatalf("expected no pending tasks, got %d", s.Pending())
	}

	s.Schedule(time.Hour, "abandoned", record("abandoned"))
	s.Stop()
	mu.Lock()
	defer mu.Unlock()
	if len(ran) != 1 || ran[0] != "kept" {
		t.Fatalf("unexpected runs %v", ran)
	}
}

func TestStatisticsJobRecordsSnapshot(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	a := testsupport.SeedReceiver(t, st, "alice", "")
	testsupport.SeedContext(t, st, []string{a.ID})

	job := jobs.Statistics(st, logging.NewNop())
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	ctx := context.Background()
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		latest, err := tx.LatestStats(ctx)
		if err != nil || latest == nil {
			t.Fatalf("LatestStats: %v %v", latest, err)
		}
		return nil
	})
}

type recordingAlerter struct {
	mu    sync.Mutex
	names []string
}

func (r *recordingAlerter) NotifyError(context.Context, error, string) error { return nil }
func (r *recordingAlerter) NotifyKeyInvalid(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, name)
	return nil
}
func (r *recordingAlerter) NotifySweepCompleted(context.Context, int, int, time.Duration) error {
	return nil
}
func (r *recordingAlerter) TestNotification(context.Context) error { return nil }

type recordingMailer struct {
	mu   sync.Mutex
	sent []notifications.Message
}

func (m *recordingMailer) Send(_ context.Context, msg notifications.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func TestKeyCheckFlagsInvalidKeysOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	_, recipient := testsupport.NewRecipient(t)
	good := testsupport.SeedReceiver(t, st, "alice", recipient)
	bad := testsupport.SeedReceiver(t, st, "bob", "age1corrupted")
	plain := testsupport.SeedReceiver(t, st, "carol", "")

	alerter := &recordingAlerter{}
	mailer := &recordingMailer{}
	job := jobs.KeyCheck(st, alerter, mailer, "node-a", logging.NewNop())
	ctx := context.Background()
	if err := job.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(alerter.names) != 1 || alerter.names[0] != "bob" {
		t.Fatalf("expected a single alert for bob, got %v", alerter.names)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].To != bad.Email {
		t.Fatalf("expected a single warning mail to %s, got %+v", bad.Email, mailer.sent)
	}
	if !strings.Contains(mailer.sent[0].Subject, "node-a") || !strings.Contains(mailer.sent[0].Body, "Hello bob") {
		t.Fatalf("unexpected warning mail %+v", mailer.sent[0])
	}
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		for id, want := range map[string]store.KeyStatus{good.ID: store.KeyValid, bad.ID: store.KeyInvalid, plain.ID: store.KeyNone} {
			r, _ := tx.ReceiverByID(ctx, id)
			if r.KeyStatus != want {
				t.Fatalf("receiver %s: expected %s, got %s", r.Name, want, r.KeyStatus)
			}
		}
		return nil
	})
}

func TestRunNowUnknownJob(t *testing.T) {
	s := jobs.NewScheduler(logging.NewNop())
	if err := s.RunNow(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
