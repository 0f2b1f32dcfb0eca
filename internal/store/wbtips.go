package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const whistleblowerTipColumns = "id, internaltip_id, receipt_hash, access_counter, last_access, creation_date"

func scanWhistleblowerTip(scanner rowScanner) (*WhistleblowerTip, error) {
	var (
		wb          WhistleblowerTip
		lastAccess  sql.NullString
		creationRaw string
	)
	if err := scanner.Scan(&wb.ID, &wb.InternalTipID, &wb.ReceiptHash, &wb.AccessCounter, &lastAccess, &creationRaw); err != nil {
		return nil, err
	}
	wb.LastAccess = parseOptionalTime(lastAccess.String)
	if created, err := parseTimeString(creationRaw); err == nil {
		wb.CreationDate = created
	}
	return &wb, nil
}

// InsertWhistleblowerTip stores the whistleblower access record of a tip. The
// UNIQUE constraint on internaltip_id rejects a second record for the same tip.
func (t *Tx) InsertWhistleblowerTip(ctx context.Context, wb *WhistleblowerTip) error {
	if wb.ID == "" {
		wb.ID = newID()
	}
	if wb.CreationDate.IsZero() {
		wb.CreationDate = time.Now().UTC()
	}
	_, err := t.exec(ctx, `INSERT INTO whistleblower_tips (`+whistleblowerTipColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		wb.ID, wb.InternalTipID, wb.ReceiptHash, wb.AccessCounter, nullableTime(wb.LastAccess), formatTime(wb.CreationDate))
	if err != nil {
		return fmt.Errorf("insert whistleblower tip: %w", err)
	}
	return nil
}

// WhistleblowerTipByTip looks up the access record of an internal tip.
func (t *Tx) WhistleblowerTipByTip(ctx context.Context, tipID string) (*WhistleblowerTip, error) {
	row := t.queryRow(ctx, `SELECT `+whistleblowerTipColumns+` FROM whistleblower_tips WHERE internaltip_id = ?`, tipID)
	wb, err := scanWhistleblowerTip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get whistleblower tip: %w", err)
	}
	return wb, nil
}

// WhistleblowerTipByReceiptHash looks up an access record by its receipt hash.
func (t *Tx) WhistleblowerTipByReceiptHash(ctx context.Context, hash string) (*WhistleblowerTip, error) {
	row := t.queryRow(ctx, `SELECT `+whistleblowerTipColumns+` FROM whistleblower_tips WHERE receipt_hash = ?`, hash)
	wb, err := scanWhistleblowerTip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get whistleblower tip by receipt: %w", err)
	}
	return wb, nil
}

// TouchWhistleblowerTip records a successful receipt login.
func (t *Tx) TouchWhistleblowerTip(ctx context.Context, id string, at time.Time) error {
	_, err := t.exec(ctx, `UPDATE whistleblower_tips SET access_counter = access_counter + 1, last_access = ? WHERE id = ?`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("touch whistleblower tip: %w", err)
	}
	return nil
}
