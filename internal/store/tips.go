package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const tipColumns = "id, context_id, creation_date, expiration_date, escalation_threshold, download_limit, access_limit, pertinence_counter, mark, wb_fields_json"

func scanInternalTip(scanner rowScanner) (*InternalTip, error) {
	var (
		tip           InternalTip
		creationRaw   string
		expirationRaw string
		mark          int
		fieldsRaw     string
	)
	if err := scanner.Scan(
		&tip.ID,
		&tip.ContextID,
		&creationRaw,
		&expirationRaw,
		&tip.EscalationThreshold,
		&tip.DownloadLimit,
		&tip.AccessLimit,
		&tip.PertinenceCounter,
		&mark,
		&fieldsRaw,
	); err != nil {
		return nil, err
	}
	tip.Mark = Mark(mark)
	fields, err := decodeFields(fieldsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode fields of tip %s: %w", tip.ID, err)
	}
	tip.Fields = fields
	if created, err := parseTimeString(creationRaw); err == nil {
		tip.CreationDate = created
	}
	if expires, err := parseTimeString(expirationRaw); err == nil {
		tip.ExpirationDate = expires
	}
	return &tip, nil
}

// InsertInternalTip persists a new internal tip, assigning an id when empty.
func (t *Tx) InsertInternalTip(ctx context.Context, tip *InternalTip) error {
	if tip.ID == "" {
		tip.ID = newID()
	}
	fieldsJSON, err := encodeFields(tip.Fields)
	if err != nil {
		return fmt.Errorf("encode tip fields: %w", err)
	}
	_, err = t.exec(ctx, `INSERT INTO internal_tips (`+tipColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tip.ID,
		tip.ContextID,
		formatTime(tip.CreationDate),
		formatTime(tip.ExpirationDate),
		tip.EscalationThreshold,
		tip.DownloadLimit,
		tip.AccessLimit,
		tip.PertinenceCounter,
		int(tip.Mark),
		fieldsJSON,
	)
	if err != nil {
		return fmt.Errorf("insert internal tip: %w", err)
	}
	return nil
}

// InternalTipByID fetches an internal tip. It returns nil when the tip does not exist.
func (t *Tx) InternalTipByID(ctx context.Context, id string) (*InternalTip, error) {
	row := t.queryRow(ctx, `SELECT `+tipColumns+` FROM internal_tips WHERE id = ?`, id)
	tip, err := scanInternalTip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get internal tip: %w", err)
	}
	return tip, nil
}

// UpdateInternalTip applies the non-nil members of update to a tip.
func (t *Tx) UpdateInternalTip(ctx context.Context, id string, update TipUpdate) error {
	sets := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if update.Fields != nil {
		fieldsJSON, err := encodeFields(update.Fields)
		if err != nil {
			return fmt.Errorf("encode tip fields: %w", err)
		}
		sets = append(sets, "wb_fields_json = ?")
		args = append(args, fieldsJSON)
	}
	if update.Mark != nil {
		sets = append(sets, "mark = ?")
		args = append(args, int(*update.Mark))
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := t.exec(ctx, `UPDATE internal_tips SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update internal tip: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update internal tip %s: %w", id, sql.ErrNoRows)
	}
	return nil
}

// AdvanceMark moves a tip from one mark to another only if it is still in
// the expected state. It reports whether this call performed the transition.
func (t *Tx) AdvanceMark(ctx context.Context, id string, from, to Mark) (bool, error) {
	res, err := t.exec(ctx, `UPDATE internal_tips SET mark = ? WHERE id = ? AND mark = ?`, int(to), id, int(from))
	if err != nil {
		return false, fmt.Errorf("advance mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance mark rows: %w", err)
	}
	return n > 0, nil
}

// TipReceiverIDs lists the receivers associated with a tip.
func (t *Tx) TipReceiverIDs(ctx context.Context, tipID string) ([]string, error) {
	ids, err := t.queryStrings(ctx, `SELECT receiver_id FROM receiver_internal_tips WHERE internaltip_id = ? ORDER BY receiver_id`, tipID)
	if err != nil {
		return nil, fmt.Errorf("list tip receivers: %w", err)
	}
	return ids, nil
}

// AddTipReceiver associates a receiver with a tip. Existing pairs are left untouched.
func (t *Tx) AddTipReceiver(ctx context.Context, tipID, receiverID string) error {
	_, err := t.exec(ctx, `INSERT INTO receiver_internal_tips (internaltip_id, receiver_id) VALUES (?, ?)
        ON CONFLICT DO NOTHING`, tipID, receiverID)
	if err != nil {
		return fmt.Errorf("add tip receiver: %w", err)
	}
	return nil
}

// ClearTipReceivers removes every receiver association of a tip.
func (t *Tx) ClearTipReceivers(ctx context.Context, tipID string) error {
	if _, err := t.exec(ctx, `DELETE FROM receiver_internal_tips WHERE internaltip_id = ?`, tipID); err != nil {
		return fmt.Errorf("clear tip receivers: %w", err)
	}
	return nil
}

// TipsByMark lists tip ids currently in the given mark, oldest first.
func (t *Tx) TipsByMark(ctx context.Context, mark Mark) ([]string, error) {
	ids, err := t.queryStrings(ctx, `SELECT id FROM internal_tips WHERE mark = ? ORDER BY creation_date, id`, int(mark))
	if err != nil {
		return nil, fmt.Errorf("list tips by mark: %w", err)
	}
	return ids, nil
}

// TipsWithPendingFiles lists finalized tips that still have files awaiting
// per-receiver delivery.
func (t *Tx) TipsWithPendingFiles(ctx context.Context) ([]string, error) {
	ids, err := t.queryStrings(ctx, `SELECT it.id FROM internal_tips it
        WHERE it.mark >= ? AND (
            EXISTS (SELECT 1 FROM internal_files f WHERE f.internaltip_id = it.id AND f.mark = ?)
            OR EXISTS (SELECT 1 FROM receiver_files rf WHERE rf.internaltip_id = it.id AND rf.status = ?)
        )
        ORDER BY it.creation_date, it.id`,
		int(MarkFinalized), string(InternalFileSubmitted), string(FileProcessing))
	if err != nil {
		return nil, fmt.Errorf("list tips with pending files: %w", err)
	}
	return ids, nil
}

// ExpirableByMark projects every tip in the given mark onto its creation date
// and time-to-live. The time-to-live is read from the owning context, using
// the submission window for unfinalized tips and the tip window otherwise.
func (t *Tx) ExpirableByMark(ctx context.Context, mark Mark) ([]Expirable, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT it.id, it.creation_date,
            CASE WHEN it.mark = ? THEN c.submission_timetolive * 3600
                 ELSE c.tip_timetolive * 86400 END
        FROM internal_tips it
        JOIN contexts c ON c.id = it.context_id
        WHERE it.mark = ?
        ORDER BY it.creation_date, it.id`, int(MarkSubmission), int(mark))
	if err != nil {
		return nil, fmt.Errorf("list expirable tips: %w", err)
	}
	defer rows.Close()

	var out []Expirable
	for rows.Next() {
		var (
			item       Expirable
			createdRaw string
		)
		if err := rows.Scan(&item.ID, &createdRaw, &item.LifeSeconds); err != nil {
			return nil, err
		}
		created, err := parseTimeString(createdRaw)
		if err != nil {
			return nil, fmt.Errorf("parse creation date of tip %s: %w", item.ID, err)
		}
		item.CreationDate = created
		out = append(out, item)
	}
	return out, rows.Err()
}
