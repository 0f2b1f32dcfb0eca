package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"tipline/internal/store"
	"tipline/internal/testsupport"
)

func insertTip(t *testing.T, st *store.Store, contextID string, mark store.Mark, created time.Time) *store.InternalTip {
	t.Helper()
	tip := &store.InternalTip{
		ContextID:      contextID,
		CreationDate:   created,
		ExpirationDate: created.Add(24 * time.Hour),
		Mark:           mark,
		Fields:         map[string]string{"headline": "hello"},
	}
	err := st.Transact(context.Background(), func(tx *store.Tx) error {
		return tx.InsertInternalTip(context.Background(), tip)
	})
	if err != nil {
		t.Fatalf("insert tip: %v", err)
	}
	return tip
}

func TestOpenCreatesSchema(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	recv := testsupport.SeedReceiver(t, st, "alice", "")
	c := testsupport.SeedContext(t, st, []string{recv.ID})

	ctx := context.Background()
	err := st.Transact(ctx, func(tx *store.Tx) error {
		got, err := tx.ContextByID(ctx, c.ID)
		if err != nil {
			return err
		}
		if got == nil || got.Name != c.Name || len(got.Fields) != 2 {
			t.Fatalf("unexpected context: %#v", got)
		}
		if !got.Fields[0].Required || got.Fields[1].Required {
			t.Fatalf("field flags not preserved: %#v", got.Fields)
		}
		receivers, err := tx.ReceiversForContext(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(receivers) != 1 || receivers[0].ID != recv.ID {
			t.Fatalf("unexpected receivers: %#v", receivers)
		}
		missing, err := tx.ContextByID(ctx, "missing")
		if err != nil {
			return err
		}
		if missing != nil {
			t.Fatalf("expected nil for missing context, got %#v", missing)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
}

func TestReopenRejectsSchemaMismatch(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st.Close()

	db, err := sql.Open("sqlite", cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	if _, err := db.Exec("UPDATE schema_version SET version = 99"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	db.Close()

	if _, err := store.Open(cfg); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}
}

func TestTransactRollsBackOnError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil)

	ctx := context.Background()
	boom := errors.New("boom")
	var tipID string
	err := st.Transact(ctx, func(tx *store.Tx) error {
		tip := &store.InternalTip{ContextID: c.ID, CreationDate: time.Now(), ExpirationDate: time.Now()}
		if err := tx.InsertInternalTip(ctx, tip); err != nil {
			return err
		}
		tipID = tip.ID
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		tip, err := tx.InternalTipByID(ctx, tipID)
		if err != nil {
			t.Fatalf("InternalTipByID: %v", err)
		}
		if tip != nil {
			t.Fatal("expected rolled back tip to be absent")
		}
		return nil
	})
}

func TestEnsureReceiverTipIsIdempotentUnderConcurrency(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	recv := testsupport.SeedReceiver(t, st, "alice", "")
	c := testsupport.SeedContext(t, st, []string{recv.ID})
	tip := insertTip(t, st, c.ID, store.MarkFinalized, time.Now().UTC())

	ctx := context.Background()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.Transact(ctx, func(tx *store.Tx) error {
				ok, err := tx.EnsureReceiverTip(ctx, tip.ID, recv.ID, time.Now())
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					created++
					mu.Unlock()
				}
				return nil
			})
			if err != nil {
				t.Errorf("EnsureReceiverTip: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one insert, got %d", created)
	}
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		ids, err := tx.ReceiverTipIDs(ctx, tip.ID)
		if err != nil {
			t.Fatalf("ReceiverTipIDs: %v", err)
		}
		if len(ids) != 1 {
			t.Fatalf("expected one receiver tip, got %v", ids)
		}
		return nil
	})
}

func TestAdvanceMarkIsConditional(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil)
	tip := insertTip(t, st, c.ID, store.MarkFinalized, time.Now().UTC())

	ctx := context.Background()
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		ok, err := tx.AdvanceMark(ctx, tip.ID, store.MarkFinalized, store.MarkFirstLevel)
		if err != nil || !ok {
			t.Fatalf("first advance: ok=%v err=%v", ok, err)
		}
		ok, err = tx.AdvanceMark(ctx, tip.ID, store.MarkFinalized, store.MarkFirstLevel)
		if err != nil || ok {
			t.Fatalf("second advance should be a no-op: ok=%v err=%v", ok, err)
		}
		return nil
	})
}

func TestUpdateInternalTipAppliesTypedUpdate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil)
	tip := insertTip(t, st, c.ID, store.MarkSubmission, time.Now().UTC())

	ctx := context.Background()
	finalized := store.MarkFinalized
	err := st.Transact(ctx, func(tx *store.Tx) error {
		return tx.UpdateInternalTip(ctx, tip.ID, store.TipUpdate{Mark: &finalized})
	})
	if err != nil {
		t.Fatalf("UpdateInternalTip: %v", err)
	}
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		got, err := tx.InternalTipByID(ctx, tip.ID)
		if err != nil {
			t.Fatalf("InternalTipByID: %v", err)
		}
		if got.Mark != store.MarkFinalized {
			t.Fatalf("expected finalized, got %v", got.Mark)
		}
		if got.Fields["headline"] != "hello" {
			t.Fatalf("fields should be untouched, got %v", got.Fields)
		}
		return nil
	})

	err = st.Transact(ctx, func(tx *store.Tx) error {
		return tx.UpdateInternalTip(ctx, "missing", store.TipUpdate{Mark: &finalized})
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for missing tip, got %v", err)
	}
}

func TestCascadeDeleteRemovesOwnedRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	recv := testsupport.SeedReceiver(t, st, "alice", "")
	c := testsupport.SeedContext(t, st, []string{recv.ID})
	tip := insertTip(t, st, c.ID, store.MarkFirstLevel, time.Now().UTC())
	upload := testsupport.SeedUpload(t, cfg, st, "doc.txt", []byte("secret"))

	ctx := context.Background()
	err := st.Transact(ctx, func(tx *store.Tx) error {
		if err := tx.AddTipReceiver(ctx, tip.ID, recv.ID); err != nil {
			return err
		}
		if _, err := tx.AttachFile(ctx, upload.ID, tip.ID); err != nil {
			return err
		}
		upload.InternalTipID = tip.ID
		if _, err := tx.EnsureReceiverTip(ctx, tip.ID, recv.ID, time.Now()); err != nil {
			return err
		}
		if _, err := tx.EnsureReceiverFile(ctx, upload, recv.ID, time.Now()); err != nil {
			return err
		}
		if err := tx.InsertWhistleblowerTip(ctx, &store.WhistleblowerTip{InternalTipID: tip.ID, ReceiptHash: "hash"}); err != nil {
			return err
		}
		return tx.AddComment(ctx, &store.Comment{InternalTipID: tip.ID, Type: store.CommentSystem, Content: "hi"})
	})
	if err != nil {
		t.Fatalf("seed owned rows: %v", err)
	}

	var artifacts []string
	err = st.Transact(ctx, func(tx *store.Tx) error {
		var err error
		artifacts, err = tx.CascadeDelete(ctx, tip.ID)
		return err
	})
	if err != nil {
		t.Fatalf("CascadeDelete: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0] != upload.FilePath {
		t.Fatalf("unexpected artifacts: %v", artifacts)
	}

	_ = st.Transact(ctx, func(tx *store.Tx) error {
		counts, err := tx.OwnedRowCounts(ctx, tip.ID)
		if err != nil {
			t.Fatalf("OwnedRowCounts: %v", err)
		}
		for table, n := range counts {
			if n != 0 {
				t.Errorf("expected no rows in %s, got %d", table, n)
			}
		}
		got, err := tx.InternalTipByID(ctx, tip.ID)
		if err != nil || got != nil {
			t.Fatalf("expected tip removed, got %#v err=%v", got, err)
		}
		return nil
	})

	err = st.Transact(ctx, func(tx *store.Tx) error {
		again, err := tx.CascadeDelete(ctx, tip.ID)
		if again != nil {
			t.Fatalf("expected no artifacts on repeat, got %v", again)
		}
		return err
	})
	if err != nil {
		t.Fatalf("repeat CascadeDelete should be a no-op, got %v", err)
	}
}

func TestExpirableByMarkUsesContextTTL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil, testsupport.WithTTL(20, 48))
	created := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	submission := insertTip(t, st, c.ID, store.MarkSubmission, created)
	finalized := insertTip(t, st, c.ID, store.MarkFinalized, created)

	ctx := context.Background()
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		subs, err := tx.ExpirableByMark(ctx, store.MarkSubmission)
		if err != nil {
			t.Fatalf("ExpirableByMark: %v", err)
		}
		if len(subs) != 1 || subs[0].ID != submission.ID || subs[0].LifeSeconds != 48*3600 {
			t.Fatalf("unexpected submission expirables: %#v", subs)
		}
		if !subs[0].CreationDate.Equal(created) {
			t.Fatalf("creation date lost precision: %v", subs[0].CreationDate)
		}
		fin, err := tx.ExpirableByMark(ctx, store.MarkFinalized)
		if err != nil {
			t.Fatalf("ExpirableByMark: %v", err)
		}
		if len(fin) != 1 || fin[0].ID != finalized.ID || fin[0].LifeSeconds != 20*86400 {
			t.Fatalf("unexpected finalized expirables: %#v", fin)
		}
		return nil
	})

	c.TipTimeToLive = 0
	c.SubmissionTimeToLive = 0
	if err := st.Transact(ctx, func(tx *store.Tx) error { return tx.UpsertContext(ctx, c) }); err != nil {
		t.Fatalf("UpsertContext: %v", err)
	}
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		fin, err := tx.ExpirableByMark(ctx, store.MarkFinalized)
		if err != nil {
			t.Fatalf("ExpirableByMark: %v", err)
		}
		if len(fin) != 1 || fin[0].LifeSeconds != 0 {
			t.Fatalf("expected TTL read at query time, got %#v", fin)
		}
		return nil
	})
}

func TestClaimNotificationOnlyOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	recv := testsupport.SeedReceiver(t, st, "alice", "")
	c := testsupport.SeedContext(t, st, []string{recv.ID})
	tip := insertTip(t, st, c.ID, store.MarkFinalized, time.Now().UTC())

	ctx := context.Background()
	var rtID string
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		if _, err := tx.EnsureReceiverTip(ctx, tip.ID, recv.ID, time.Now()); err != nil {
			t.Fatalf("EnsureReceiverTip: %v", err)
		}
		ids, _ := tx.ReceiverTipIDs(ctx, tip.ID)
		rtID = ids[0]
		return nil
	})

	claims := 0
	for i := 0; i < 3; i++ {
		_ = st.Transact(ctx, func(tx *store.Tx) error {
			ok, err := tx.ClaimReceiverTipNotification(ctx, rtID)
			if err != nil {
				t.Fatalf("claim: %v", err)
			}
			if ok {
				claims++
			}
			return nil
		})
	}
	if claims != 1 {
		t.Fatalf("expected a single claim, got %d", claims)
	}

	_ = st.Transact(ctx, func(tx *store.Tx) error {
		n, err := tx.ResetInFlightNotifications(ctx)
		if err != nil || n != 1 {
			t.Fatalf("reset: n=%d err=%v", n, err)
		}
		pending, err := tx.ReceiverTipsByMark(ctx, store.NotificationPending)
		if err != nil || len(pending) != 1 {
			t.Fatalf("expected pending receiver tip after reset: %v %v", pending, err)
		}
		return nil
	})
}

func TestAttachFileRefusesForeignTip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil)
	first := insertTip(t, st, c.ID, store.MarkSubmission, time.Now().UTC())
	second := insertTip(t, st, c.ID, store.MarkSubmission, time.Now().UTC())
	upload := testsupport.SeedUpload(t, cfg, st, "a.bin", []byte("a"))

	ctx := context.Background()
	_ = st.Transact(ctx, func(tx *store.Tx) error {
		if ok, err := tx.AttachFile(ctx, upload.ID, first.ID); err != nil || !ok {
			t.Fatalf("attach first: ok=%v err=%v", ok, err)
		}
		if ok, err := tx.AttachFile(ctx, upload.ID, first.ID); err != nil || !ok {
			t.Fatalf("re-attach same tip: ok=%v err=%v", ok, err)
		}
		if ok, err := tx.AttachFile(ctx, upload.ID, second.ID); err != nil || ok {
			t.Fatalf("attach foreign tip should fail: ok=%v err=%v", ok, err)
		}
		return nil
	})
}

func TestCountsAndStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil)
	insertTip(t, st, c.ID, store.MarkSubmission, time.Now().UTC())
	insertTip(t, st, c.ID, store.MarkFinalized, time.Now().UTC())
	insertTip(t, st, c.ID, store.MarkFinalized, time.Now().UTC())

	ctx := context.Background()
	err := st.Transact(ctx, func(tx *store.Tx) error {
		counts, err := tx.Counts(ctx)
		if err != nil {
			return err
		}
		if counts.TipsByMark[store.MarkSubmission] != 1 || counts.TipsByMark[store.MarkFinalized] != 2 {
			t.Fatalf("unexpected tip counts: %#v", counts.TipsByMark)
		}
		if _, err := tx.InsertStats(ctx, time.Now(), counts); err != nil {
			return err
		}
		latest, err := tx.LatestStats(ctx)
		if err != nil {
			return err
		}
		if latest == nil || latest.Summary.TipsByMark[store.MarkFinalized] != 2 {
			t.Fatalf("unexpected latest stats: %#v", latest)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
}

func TestTipsByMarkOrdersBySubSecondCreation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	c := testsupport.SeedContext(t, st, nil)

	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	later := insertTip(t, st, c.ID, store.MarkFinalized, base.Add(500*time.Millisecond))
	earlier := insertTip(t, st, c.ID, store.MarkFinalized, base)

	ctx := context.Background()
	var ids []string
	err := st.Transact(ctx, func(tx *store.Tx) error {
		var err error
		ids, err = tx.TipsByMark(ctx, store.MarkFinalized)
		return err
	})
	if err != nil {
		t.Fatalf("TipsByMark: %v", err)
	}
	if len(ids) != 2 || ids[0] != earlier.ID || ids[1] != later.ID {
		t.Fatalf("expected oldest first [%s %s], got %v", earlier.ID, later.ID, ids)
	}
}
