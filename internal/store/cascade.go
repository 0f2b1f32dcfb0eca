package store

import (
	"context"
	"fmt"
)

// cascadeTables lists every table owned by an internal tip, children first.
var cascadeTables = []string{
	"receiver_files",
	"comments",
	"receiver_tips",
	"whistleblower_tips",
	"receiver_internal_tips",
	"internal_files",
}

// CascadeDelete removes an internal tip and every row it owns. It returns the
// on-disk artifacts referenced by the deleted files so the caller can remove
// them after commit. Deleting a tip that no longer exists is a no-op.
func (t *Tx) CascadeDelete(ctx context.Context, tipID string) ([]string, error) {
	exists, err := t.count(ctx, `SELECT COUNT(1) FROM internal_tips WHERE id = ?`, tipID)
	if err != nil {
		return nil, fmt.Errorf("check internal tip: %w", err)
	}
	if exists == 0 {
		return nil, nil
	}

	artifacts, err := t.queryStrings(ctx, `SELECT file_path FROM internal_files WHERE internaltip_id = ?
        UNION
        SELECT file_path FROM receiver_files WHERE internaltip_id = ? AND file_path IS NOT NULL AND status = ?`,
		tipID, tipID, string(FileReady))
	if err != nil {
		return nil, fmt.Errorf("collect artifacts: %w", err)
	}

	for _, table := range cascadeTables {
		if _, err := t.exec(ctx, `DELETE FROM `+table+` WHERE internaltip_id = ?`, tipID); err != nil {
			return nil, fmt.Errorf("delete %s of tip %s: %w", table, tipID, err)
		}
	}
	if _, err := t.exec(ctx, `DELETE FROM internal_tips WHERE id = ?`, tipID); err != nil {
		return nil, fmt.Errorf("delete internal tip %s: %w", tipID, err)
	}
	return artifacts, nil
}

// OwnedRowCounts reports how many rows in each owned table still reference tipID.
func (t *Tx) OwnedRowCounts(ctx context.Context, tipID string) (map[string]int, error) {
	counts := make(map[string]int, len(cascadeTables))
	for _, table := range cascadeTables {
		n, err := t.count(ctx, `SELECT COUNT(1) FROM `+table+` WHERE internaltip_id = ?`, tipID)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		counts[table] = n
	}
	return counts, nil
}
