package cleaning_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tipline/internal/cleaning"
	"tipline/internal/config"
	"tipline/internal/delivery"
	"tipline/internal/encryption"
	"tipline/internal/logging"
	"tipline/internal/store"
	"tipline/internal/submission"
	"tipline/internal/testsupport"
)

func TestIsExpiredBoundaries(t *testing.T) {
	now := time.Now()
	if !cleaning.IsExpired(now, now, 0) {
		t.Fatal("zero lifetime must be expired at creation time")
	}
	if !cleaning.IsExpired(now, now.Add(-time.Microsecond), 0) {
		t.Fatal("zero lifetime must be expired for past creation")
	}
	if cleaning.IsExpired(now, now, 86400) {
		t.Fatal("fresh tip with one day lifetime must not be expired")
	}
	if cleaning.IsExpired(now, now.Add(-86400*time.Second+time.Nanosecond), 86400) {
		t.Fatal("expired one nanosecond early")
	}
	if !cleaning.IsExpired(now, now.Add(-86400*time.Second), 86400) {
		t.Fatal("not expired at the exact boundary")
	}
	if cleaning.IsExpired(now, now.Add(-time.Hour), 1<<62) {
		t.Fatal("huge lifetime must not overflow into expiry")
	}
}

func TestIsExpiredZeroLifetimeIsStable(t *testing.T) {
	creation := time.Now()
	first := cleaning.IsExpired(time.Now(), creation, 0)
	second := cleaning.IsExpired(time.Now(), creation, 0)
	if !first || !second {
		t.Fatalf("consecutive checks disagree: %v %v", first, second)
	}
}

type env struct {
	cfg      *config.Config
	st       *store.Store
	mgr      *submission.Manager
	delivery *delivery.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return &env{
		cfg:      cfg,
		st:       st,
		mgr:      submission.New(st, cfg.Node.ReceiptSalt, logging.NewNop()),
		delivery: delivery.New(st, encryption.NewAge(), cfg.Paths.AttachmentsDir, logging.NewNop()),
	}
}

func (e *env) setTTL(t *testing.T, c *store.Context, tipDays, submissionHours int) {
	t.Helper()
	c.TipTimeToLive = tipDays
	c.SubmissionTimeToLive = submissionHours
	ctx := context.Background()
	if err := e.st.Transact(ctx, func(tx *store.Tx) error { return tx.UpsertContext(ctx, c) }); err != nil {
		t.Fatalf("update context: %v", err)
	}
}

func TestListExpirableUsesContextTTLAtReadTime(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID}, testsupport.WithTTL(20, 48))
	ctx := context.Background()

	draft, err := e.mgr.Create(ctx, submission.Request{ContextID: c.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	final, err := e.mgr.Create(ctx, submission.Request{ContextID: c.ID, Fields: map[string]string{"headline": "x"}, Finalize: true})
	if err != nil {
		t.Fatalf("Create finalized: %v", err)
	}

	sweeper := cleaning.New(e.st, logging.NewNop())
	drafts, err := sweeper.ListExpirableByMark(ctx, store.MarkSubmission)
	if err != nil {
		t.Fatalf("ListExpirableByMark: %v", err)
	}
	if len(drafts) != 1 || drafts[0].ID != draft.ID || drafts[0].LifeSeconds != 48*3600 {
		t.Fatalf("unexpected drafts: %+v", drafts)
	}
	finals, _ := sweeper.ListExpirableByMark(ctx, store.MarkFinalized)
	if len(finals) != 1 || finals[0].ID != final.ID || finals[0].LifeSeconds != 20*86400 {
		t.Fatalf("unexpected finalized: %+v", finals)
	}

	e.setTTL(t, c, 10, 24)
	finals, _ = sweeper.ListExpirableByMark(ctx, store.MarkFinalized)
	if finals[0].LifeSeconds != 10*86400 {
		t.Fatalf("expected context change to apply, got %d", finals[0].LifeSeconds)
	}
}

func TestLifecycleScenario(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	b := testsupport.SeedReceiver(t, e.st, "bob", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID, b.ID}, testsupport.WithTTL(20, 48))
	ctx := context.Background()

	upload := testsupport.SeedUpload(t, e.cfg, e.st, "doc.txt", []byte("doc"))
	draft, err := e.mgr.Create(ctx, submission.Request{ContextID: c.ID, FileIDs: []string{upload.ID}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if draft.Mark != store.MarkSubmission {
		t.Fatalf("expected submission mark, got %v", draft.Mark)
	}

	final, err := e.mgr.Update(ctx, draft.ID, submission.Request{
		Fields:   map[string]string{"headline": "Budget", "details": "numbers"},
		Finalize: true,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if final.Mark != store.MarkFinalized || final.Receipt == "" {
		t.Fatalf("expected finalized with receipt, got %+v", final)
	}

	rtips, err := e.delivery.FanOutReceiverTips(ctx, draft.ID)
	if err != nil || len(rtips) != 2 {
		t.Fatalf("FanOutReceiverTips: %v %v", rtips, err)
	}
	if _, err := e.delivery.FanOutFiles(ctx, draft.ID); err != nil {
		t.Fatalf("FanOutFiles: %v", err)
	}
	_ = e.st.Transact(ctx, func(tx *store.Tx) error {
		return tx.AddComment(ctx, &store.Comment{InternalTipID: draft.ID, Type: store.CommentSystem, Content: "x"})
	})

	sweeper := cleaning.New(e.st, logging.NewNop())
	untouched, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if untouched.Deleted != 0 {
		t.Fatalf("nothing should expire yet, got %+v", untouched)
	}

	e.setTTL(t, c, 0, 0)
	result, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Deleted != 1 || result.Failed != 0 {
		t.Fatalf("unexpected sweep result: %+v", result)
	}

	_ = e.st.Transact(ctx, func(tx *store.Tx) error {
		tip, _ := tx.InternalTipByID(ctx, draft.ID)
		if tip != nil {
			t.Fatal("internal tip still present")
		}
		counts, err := tx.OwnedRowCounts(ctx, draft.ID)
		if err != nil {
			t.Fatalf("OwnedRowCounts: %v", err)
		}
		for table, n := range counts {
			if n != 0 {
				t.Fatalf("%d rows remain in %s", n, table)
			}
		}
		return nil
	})
	if _, err := os.Stat(upload.FilePath); !os.IsNotExist(err) {
		t.Fatalf("expected upload artifact removed, stat err=%v", err)
	}

	repeat, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("repeat Sweep: %v", err)
	}
	if repeat.Deleted != 0 || repeat.Failed != 0 || repeat.Expired != 0 {
		t.Fatalf("repeat sweep should be a no-op, got %+v", repeat)
	}
}

func TestSweepContinuesPastArtifactFailure(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID}, testsupport.WithTTL(0, 0))
	ctx := context.Background()

	stubborn := filepath.Join(e.cfg.Paths.AttachmentsDir, "stubborn")
	testsupport.WriteFile(t, filepath.Join(stubborn, "child"), 8)
	blocked := &store.InternalFile{Name: "blocked", FilePath: stubborn, Size: 8}
	if err := e.st.Transact(ctx, func(tx *store.Tx) error { return tx.InsertInternalFile(ctx, blocked) }); err != nil {
		t.Fatalf("InsertInternalFile: %v", err)
	}
	first, err := e.mgr.Create(ctx, submission.Request{ContextID: c.ID, FileIDs: []string{blocked.ID}})
	if err != nil {
		t.Fatalf("Create first: %v", err)
	}
	second, err := e.mgr.Create(ctx, submission.Request{ContextID: c.ID})
	if err != nil {
		t.Fatalf("Create second: %v", err)
	}

	result, err := cleaning.New(e.st, logging.NewNop()).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if result.Deleted != 2 || result.ArtifactFailures != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.FailedIDs) != 1 || result.FailedIDs[0] != first.ID {
		t.Fatalf("expected the first tip to be reported, got %v", result.FailedIDs)
	}
	_ = e.st.Transact(ctx, func(tx *store.Tx) error {
		for _, id := range []string{first.ID, second.ID} {
			if tip, _ := tx.InternalTipByID(ctx, id); tip != nil {
				t.Fatalf("tip %s not deleted", id)
			}
		}
		return nil
	})
}

func TestSweepRemovesOldOrphanUploads(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	upload := testsupport.SeedUpload(t, e.cfg, e.st, "lost.txt", []byte("lost"))

	fresh := cleaning.New(e.st, logging.NewNop())
	result, _ := fresh.Sweep(ctx)
	if result.Orphans != 0 {
		t.Fatalf("fresh upload removed: %+v", result)
	}

	later := cleaning.New(e.st, logging.NewNop(), cleaning.WithClock(func() time.Time {
		return time.Now().Add(cleaning.DefaultOrphanAge + time.Minute)
	}))
	result, _ = later.Sweep(ctx)
	if result.Orphans != 1 {
		t.Fatalf("expected orphan removed, got %+v", result)
	}
	if _, err := os.Stat(upload.FilePath); !os.IsNotExist(err) {
		t.Fatalf("expected orphan file removed, stat err=%v", err)
	}
}

func TestDeleteMissingTipIsNoop(t *testing.T) {
	e := newEnv(t)
	removed, err := cleaning.New(e.st, logging.NewNop()).Delete(context.Background(), "gone")
	if err != nil || removed != 0 {
		t.Fatalf("expected no-op, got removed=%d err=%v", removed, err)
	}
}
