package main

import (
	"strings"
	"testing"

	"tipline/internal/preflight"
	"tipline/internal/store"
)

func TestStatusKindsForDeliveryStates(t *testing.T) {
	fileCases := map[store.FileStatus]statusKind{
		store.FileReady:      statusOK,
		store.FileNoKey:      statusWarn,
		store.FileUnreadable: statusError,
		store.FileProcessing: statusInfo,
	}
	for status, want := range fileCases {
		if got := fileStatusKind(status); got != want {
			t.Fatalf("fileStatusKind(%s) = %d, want %d", status, got, want)
		}
	}

	mailCases := map[store.NotificationMark]statusKind{
		store.NotificationSent:    statusOK,
		store.NotificationFailed:  statusError,
		store.NotificationPending: statusInfo,
		store.NotificationSending: statusInfo,
	}
	for mark, want := range mailCases {
		if got := notificationKind(mark); got != want {
			t.Fatalf("notificationKind(%s) = %d, want %d", mark, got, want)
		}
	}

	if markKind(store.MarkSubmission) != statusWarn || markKind(store.MarkSecondLevel) != statusOK {
		t.Fatal("unexpected mark kinds")
	}
	if checkKind(preflight.Result{Optional: true}) != statusWarn || checkKind(preflight.Result{}) != statusError {
		t.Fatal("unexpected check kinds")
	}
}

func TestRenderStatusLine(t *testing.T) {
	got := renderStatusLine("files unreadable", statusError, "2", false)
	if !strings.HasPrefix(got, "  files unreadable:") || !strings.HasSuffix(got, "[ERROR] 2") {
		t.Fatalf("unexpected line %q", got)
	}
	if plain := renderStatusLine("smtp", statusOK, "", false); !strings.HasSuffix(plain, "[OK]") {
		t.Fatalf("unexpected line %q", plain)
	}
	if strings.Contains(got, "\x1b[") {
		t.Fatalf("expected no ANSI codes without colorize, got %q", got)
	}
}

func TestRenderTallyOrdersWorstFirst(t *testing.T) {
	files := map[store.FileStatus]int{
		store.FileReady:      2,
		store.FileUnreadable: 1,
		store.FileNoKey:      1,
		store.FileProcessing: 0,
	}
	if got := renderTally(files, fileStatusKind, false); got != "1 unreadable, 1 nokey, 2 ready" {
		t.Fatalf("unexpected tally %q", got)
	}
	if got := renderTally(map[store.NotificationMark]int{}, notificationKind, false); got != "-" {
		t.Fatalf("expected dash for empty tally, got %q", got)
	}
}

func TestDeliveryLines(t *testing.T) {
	counts := store.Counts{
		ReceiverFiles: map[store.FileStatus]int{store.FileReady: 3, store.FileUnreadable: 1},
		PendingMail:   2,
	}
	lines := deliveryLines(counts, false)
	if len(lines) != 5 {
		t.Fatalf("expected 5 lines, got %d: %v", len(lines), lines)
	}
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"files ready:", "[OK] 3", "[ERROR] 1", "files nokey:", "[INFO] 0", "pending notifications:", "[INFO] 2"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %q", want, joined)
		}
	}
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]column{leftColumn("Kind"), rightColumn("Sent"), rightColumn("Failed")},
		[][]string{{"Tips", "4"}})
	if !strings.Contains(out, "Tips") || !strings.Contains(out, "4") {
		t.Fatalf("unexpected table %q", out)
	}
	if renderTable(nil, nil) != "" {
		t.Fatal("expected empty output without columns")
	}
}
