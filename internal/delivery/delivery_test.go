package delivery_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"tipline/internal/config"
	"tipline/internal/delivery"
	"tipline/internal/encryption"
	"tipline/internal/logging"
	"tipline/internal/services"
	"tipline/internal/store"
	"tipline/internal/submission"
	"tipline/internal/testsupport"
)

type env struct {
	cfg   *config.Config
	st    *store.Store
	mgr   *submission.Manager
	sched *delivery.Scheduler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return &env{
		cfg:   cfg,
		st:    st,
		mgr:   submission.New(st, cfg.Node.ReceiptSalt, logging.NewNop()),
		sched: delivery.New(st, encryption.NewAge(), cfg.Paths.AttachmentsDir, logging.NewNop()),
	}
}

func (e *env) finalizedTip(t *testing.T, contextID string, fileIDs ...string) string {
	t.Helper()
	view, err := e.mgr.Create(context.Background(), submission.Request{
		ContextID: contextID,
		Fields:    map[string]string{"headline": "h"},
		FileIDs:   fileIDs,
		Finalize:  true,
	})
	if err != nil {
		t.Fatalf("create finalized tip: %v", err)
	}
	return view.ID
}

func (e *env) mark(t *testing.T, tipID string) store.Mark {
	t.Helper()
	ctx := context.Background()
	var mark store.Mark
	_ = e.st.Transact(ctx, func(tx *store.Tx) error {
		tip, err := tx.InternalTipByID(ctx, tipID)
		if err != nil || tip == nil {
			t.Fatalf("load tip: %v %v", tip, err)
		}
		mark = tip.Mark
		return nil
	})
	return mark
}

func TestFanOutReceiverTipsIsIdempotent(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	b := testsupport.SeedReceiver(t, e.st, "bob", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID, b.ID})
	tipID := e.finalizedTip(t, c.ID)

	first, err := e.sched.FanOutReceiverTips(context.Background(), tipID)
	if err != nil {
		t.Fatalf("FanOutReceiverTips: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 receiver tips, got %v", first)
	}
	if got := e.mark(t, tipID); got != store.MarkFirstLevel {
		t.Fatalf("expected first level mark, got %s", got)
	}

	second, err := e.sched.FanOutReceiverTips(context.Background(), tipID)
	if err != nil {
		t.Fatalf("second FanOutReceiverTips: %v", err)
	}
	sort.Strings(first)
	sort.Strings(second)
	if len(second) != len(first) || first[0] != second[0] || first[1] != second[1] {
		t.Fatalf("fan-out not idempotent: %v vs %v", first, second)
	}
}

func TestFanOutReceiverTipsConcurrent(t *testing.T) {
	e := newEnv(t)
	ids := make([]string, 0, 3)
	for _, name := range []string{"alice", "bob", "carol"} {
		ids = append(ids, testsupport.SeedReceiver(t, e.st, name, "").ID)
	}
	c := testsupport.SeedContext(t, e.st, ids)
	tipID := e.finalizedTip(t, c.ID)

	const workers = 6
	var wg sync.WaitGroup
	results := make([][]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.sched.FanOutReceiverTips(context.Background(), tipID)
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if len(results[i]) != 3 {
			t.Fatalf("worker %d saw %d receiver tips", i, len(results[i]))
		}
	}

	ctx := context.Background()
	_ = e.st.Transact(ctx, func(tx *store.Tx) error {
		rows, _ := tx.ReceiverTipsByTip(ctx, tipID)
		if len(rows) != 3 {
			t.Fatalf("expected 3 rows, got %d", len(rows))
		}
		return nil
	})
}

func TestFanOutRejectsDraft(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID})
	draft, err := e.mgr.Create(context.Background(), submission.Request{ContextID: c.ID})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := e.sched.FanOutReceiverTips(context.Background(), draft.ID); !errors.Is(err, services.ErrStateConflict) {
		t.Fatalf("expected state conflict for draft, got %v", err)
	}
	if _, err := e.sched.FanOutFiles(context.Background(), draft.ID); !errors.Is(err, services.ErrStateConflict) {
		t.Fatalf("expected state conflict for draft files, got %v", err)
	}
	if _, err := e.sched.FanOutReceiverTips(context.Background(), "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFanOutFilesPerReceiverOutcome(t *testing.T) {
	e := newEnv(t)
	identity, recipient := testsupport.NewRecipient(t)
	alice := testsupport.SeedReceiver(t, e.st, "alice", recipient)
	bob := testsupport.SeedReceiver(t, e.st, "bob", "")
	carol := testsupport.SeedReceiver(t, e.st, "carol", "age1notavalidkey")
	c := testsupport.SeedContext(t, e.st, []string{alice.ID, bob.ID, carol.ID})

	content := []byte("the ledger shows two sets of books")
	upload := testsupport.SeedUpload(t, e.cfg, e.st, "ledger.txt", content)
	tipID := e.finalizedTip(t, c.ID, upload.ID)

	result, err := e.sched.FanOutFiles(context.Background(), tipID)
	if err != nil {
		t.Fatalf("FanOutFiles: %v", err)
	}
	if result.Created != 3 || result.Ready != 1 || result.NoKey != 1 || result.Unreadable != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	ctx := context.Background()
	rows := map[string]*store.ReceiverFile{}
	_ = e.st.Transact(ctx, func(tx *store.Tx) error {
		all, err := tx.ReceiverFilesByTip(ctx, tipID)
		if err != nil {
			t.Fatalf("ReceiverFilesByTip: %v", err)
		}
		for _, rf := range all {
			rows[rf.ReceiverID] = rf
		}
		f, _ := tx.InternalFileByID(ctx, upload.ID)
		if f.Mark != store.InternalFileDelivered {
			t.Fatalf("expected internal file delivered, got %s", f.Mark)
		}
		return nil
	})

	if rows[bob.ID].Status != store.FileNoKey || rows[bob.ID].FilePath != upload.FilePath {
		t.Fatalf("unexpected bob file: %+v", rows[bob.ID])
	}
	if rows[carol.ID].Status != store.FileUnreadable {
		t.Fatalf("expected carol unreadable, got %+v", rows[carol.ID])
	}

	ready := rows[alice.ID]
	if ready.Status != store.FileReady {
		t.Fatalf("expected alice ready, got %+v", ready)
	}
	encrypted, err := os.Open(ready.FilePath)
	if err != nil {
		t.Fatalf("open encrypted artifact: %v", err)
	}
	defer encrypted.Close()
	plain, err := encryption.Decrypt(encrypted, identity.String())
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	got, err := io.ReadAll(plain)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("decrypted content mismatch: %q", got)
	}

	again, err := e.sched.FanOutFiles(context.Background(), tipID)
	if err != nil {
		t.Fatalf("second FanOutFiles: %v", err)
	}
	if again != (delivery.FileResult{}) {
		t.Fatalf("expected no work on second run, got %+v", again)
	}
}

// deletingEncryptor removes the tip before encrypting, as a concurrent sweep would.
type deletingEncryptor struct {
	encryption.Encryptor
	st    *store.Store
	tipID string
}

func (d *deletingEncryptor) EncryptStream(dst io.Writer, src io.Reader, recipient string) error {
	ctx := context.Background()
	err := d.st.Transact(ctx, func(tx *store.Tx) error {
		_, err := tx.CascadeDelete(ctx, d.tipID)
		return err
	})
	if err != nil {
		return err
	}
	return d.Encryptor.EncryptStream(dst, src, recipient)
}

func TestFanOutFilesRemovesArtifactOfDeletedTip(t *testing.T) {
	e := newEnv(t)
	_, recipient := testsupport.NewRecipient(t)
	alice := testsupport.SeedReceiver(t, e.st, "alice", recipient)
	c := testsupport.SeedContext(t, e.st, []string{alice.ID})
	upload := testsupport.SeedUpload(t, e.cfg, e.st, "ledger.txt", []byte("evidence"))
	tipID := e.finalizedTip(t, c.ID, upload.ID)

	enc := &deletingEncryptor{Encryptor: encryption.NewAge(), st: e.st, tipID: tipID}
	sched := delivery.New(e.st, enc, e.cfg.Paths.AttachmentsDir, logging.NewNop())

	result, err := sched.FanOutFiles(context.Background(), tipID)
	if err != nil {
		t.Fatalf("FanOutFiles: %v", err)
	}
	if result.Ready != 0 {
		t.Fatalf("expected no ready file for a deleted tip, got %+v", result)
	}
	leftovers, err := filepath.Glob(filepath.Join(e.cfg.Paths.AttachmentsDir, "*.age"))
	if err != nil {
		t.Fatal(err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("encrypted artifacts survive their tip: %v", leftovers)
	}
}

func TestFanOutsCommute(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID})
	upload := testsupport.SeedUpload(t, e.cfg, e.st, "a.txt", []byte("a"))
	tipID := e.finalizedTip(t, c.ID, upload.ID)

	if _, err := e.sched.FanOutFiles(context.Background(), tipID); err != nil {
		t.Fatalf("FanOutFiles first: %v", err)
	}
	ids, err := e.sched.FanOutReceiverTips(context.Background(), tipID)
	if err != nil || len(ids) != 1 {
		t.Fatalf("FanOutReceiverTips after files: %v %v", ids, err)
	}
	if _, err := e.sched.FanOutFiles(context.Background(), tipID); err != nil {
		t.Fatalf("FanOutFiles after first level: %v", err)
	}
}

func TestRunDeliversPendingTips(t *testing.T) {
	e := newEnv(t)
	a := testsupport.SeedReceiver(t, e.st, "alice", "")
	b := testsupport.SeedReceiver(t, e.st, "bob", "")
	c := testsupport.SeedContext(t, e.st, []string{a.ID, b.ID})
	upload := testsupport.SeedUpload(t, e.cfg, e.st, "a.txt", []byte("a"))
	tipID := e.finalizedTip(t, c.ID, upload.ID)

	result, err := e.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Tips != 1 || result.ReceiverTips != 2 || result.FileTips != 1 || result.Files.NoKey != 2 {
		t.Fatalf("unexpected run result: %+v", result)
	}
	if got := e.mark(t, tipID); got != store.MarkFirstLevel {
		t.Fatalf("expected first level, got %s", got)
	}

	idle, err := e.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if idle.Tips != 0 || idle.FileTips != 0 || idle.Failures != 0 {
		t.Fatalf("expected idle tick, got %+v", idle)
	}
}
