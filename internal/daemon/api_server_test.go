package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"tipline/internal/logging"
	"tipline/internal/runtime"
	"tipline/internal/services"
	"tipline/internal/store"
	"tipline/internal/submission"
	"tipline/internal/testsupport"
)

type apiFixture struct {
	rt     *runtime.Runtime
	server *httptest.Server
	ctx    *store.Context
}

func newAPIFixture(t *testing.T, token string) *apiFixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIToken = token
	rt, err := runtime.Open(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("runtime.Open: %v", err)
	}
	d, err := New(rt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	server := httptest.NewServer(d.api.routes())
	t.Cleanup(func() {
		server.Close()
		_ = d.Close()
	})

	alice := testsupport.SeedReceiver(t, rt.Store, "alice", "")
	c := testsupport.SeedContext(t, rt.Store, []string{alice.ID})
	return &apiFixture{rt: rt, server: server, ctx: c}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp
}

func TestSubmissionLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "")

	var draft submission.TipView
	resp := f.do(t, http.MethodPost, "/api/submission", submission.Request{ContextID: f.ctx.ID}, &draft)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}

	var fetched submission.TipView
	if resp := f.do(t, http.MethodGet, "/api/submission/"+draft.ID, nil, &fetched); resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	if fetched.ID != draft.ID {
		t.Fatalf("fetched %q, want %q", fetched.ID, draft.ID)
	}

	var final submission.TipView
	resp = f.do(t, http.MethodPut, "/api/submission/"+draft.ID, submission.Request{
		ContextID: f.ctx.ID,
		Fields:    map[string]string{"headline": "Rigged tender"},
		Finalize:  true,
	}, &final)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d", resp.StatusCode)
	}
	if final.Receipt == "" {
		t.Fatal("expected receipt after finalize")
	}

	if resp := f.do(t, http.MethodPut, "/api/submission/"+draft.ID, submission.Request{ContextID: f.ctx.ID}, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("update after finalize: expected 409, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodDelete, "/api/submission/"+draft.ID, nil, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete after finalize: expected 409, got %d", resp.StatusCode)
	}

	var viewed submission.TipView
	resp = f.do(t, http.MethodPost, "/api/receipt", receiptRequest{Receipt: final.Receipt}, &viewed)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("receipt: expected 200, got %d", resp.StatusCode)
	}
	if viewed.ID != draft.ID || viewed.Receipt != "" {
		t.Fatalf("unexpected receipt view %+v", viewed)
	}

	var comment commentResponse
	resp = f.do(t, http.MethodPost, "/api/receipt/comment", receiptRequest{Receipt: final.Receipt, Content: "one more detail"}, &comment)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("comment: expected 201, got %d", resp.StatusCode)
	}
	if comment.TipID != draft.ID {
		t.Fatalf("comment attached to %q", comment.TipID)
	}

	if resp := f.do(t, http.MethodPost, "/api/receipt", receiptRequest{Receipt: "0000000000000000"}, nil); resp.StatusCode != http.StatusNotFound && resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("wrong receipt: expected rejection, got %d", resp.StatusCode)
	}
}

func TestDraftDeleteAndMissing(t *testing.T) {
	f := newAPIFixture(t, "")

	var draft submission.TipView
	f.do(t, http.MethodPost, "/api/submission", submission.Request{ContextID: f.ctx.ID}, &draft)
	if resp := f.do(t, http.MethodDelete, "/api/submission/"+draft.ID, nil, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodGet, "/api/submission/"+draft.ID, nil, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/submission", submission.Request{ContextID: "missing"}, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown context: expected 404, got %d", resp.StatusCode)
	}
	if resp := f.do(t, http.MethodPost, "/api/submission", map[string]any{"bogus": 1}, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown json field: expected 400, got %d", resp.StatusCode)
	}
}

func TestUploadThenAttach(t *testing.T) {
	f := newAPIFixture(t, "")

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "evidence.txt")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fmt.Fprint(part, "ledger page 4")
	_ = mw.Close()

	resp, err := http.Post(f.server.URL+"/api/files", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d", resp.StatusCode)
	}
	var uploaded fileResponse
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	if uploaded.Name != "evidence.txt" || uploaded.Size != int64(len("ledger page 4")) {
		t.Fatalf("unexpected upload %+v", uploaded)
	}

	var view submission.TipView
	resp2 := f.do(t, http.MethodPost, "/api/submission", submission.Request{
		ContextID: f.ctx.ID,
		FileIDs:   []string{uploaded.ID},
	}, &view)
	if resp2.StatusCode != http.StatusCreated {
		t.Fatalf("create with file: expected 201, got %d", resp2.StatusCode)
	}
	if len(view.Files) != 1 {
		t.Fatalf("expected attached file, got %v", view.Files)
	}

	if resp, _ := http.Post(f.server.URL+"/api/files", "text/plain", bytes.NewBufferString("x")); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-multipart upload: expected 400, got %d", resp.StatusCode)
	}
}

func TestStatusRequiresToken(t *testing.T) {
	f := newAPIFixture(t, "s3cret")

	if resp := f.do(t, http.MethodGet, "/api/status", nil, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}
	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Running || len(status.Jobs) != 5 {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestStatusForMapsErrorClasses(t *testing.T) {
	cases := map[error]int{
		services.ErrNotFound:                 http.StatusNotFound,
		submission.ErrMissingRequiredField:   http.StatusBadRequest,
		submission.ErrSubmissionConcluded:    http.StatusConflict,
		services.ErrTransient:                http.StatusInternalServerError,
		context.Canceled:                     http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := statusFor(err); got != want {
			t.Fatalf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
