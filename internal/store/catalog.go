package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const contextColumns = "id, name, selectable_receiver, escalation_threshold, tip_max_access, file_max_download, tip_timetolive, submission_timetolive, receipt_regexp, fields_json, created_at"

const receiverColumns = "id, name, email, age_recipient, encrypt_files, encrypt_notifications, key_status, receiver_level, created_at"

func scanContext(scanner rowScanner) (*Context, error) {
	var (
		c          Context
		selectable int
		fieldsRaw  string
		createdRaw string
	)
	if err := scanner.Scan(
		&c.ID,
		&c.Name,
		&selectable,
		&c.EscalationThreshold,
		&c.TipMaxAccess,
		&c.FileMaxDownload,
		&c.TipTimeToLive,
		&c.SubmissionTimeToLive,
		&c.ReceiptRegexp,
		&fieldsRaw,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	c.SelectableReceiver = selectable != 0
	if fieldsRaw != "" {
		if err := json.Unmarshal([]byte(fieldsRaw), &c.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of context %s: %w", c.ID, err)
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		c.CreatedAt = created
	}
	return &c, nil
}

func scanReceiver(scanner rowScanner) (*Receiver, error) {
	var (
		r          Receiver
		recipient  sql.NullString
		encFiles   int
		encNotify  int
		keyStatus  string
		createdRaw string
	)
	if err := scanner.Scan(
		&r.ID,
		&r.Name,
		&r.Email,
		&recipient,
		&encFiles,
		&encNotify,
		&keyStatus,
		&r.Level,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	r.AgeRecipient = recipient.String
	r.EncryptFiles = encFiles != 0
	r.EncryptNotifications = encNotify != 0
	r.KeyStatus = KeyStatus(keyStatus)
	if created, err := parseTimeString(createdRaw); err == nil {
		r.CreatedAt = created
	}
	return &r, nil
}

// UpsertContext inserts or replaces a context definition.
func (t *Tx) UpsertContext(ctx context.Context, c *Context) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	fields := c.Fields
	if fields == nil {
		fields = []Field{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode context fields: %w", err)
	}
	_, err = t.exec(ctx, `INSERT INTO contexts (`+contextColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            selectable_receiver = excluded.selectable_receiver,
            escalation_threshold = excluded.escalation_threshold,
            tip_max_access = excluded.tip_max_access,
            file_max_download = excluded.file_max_download,
            tip_timetolive = excluded.tip_timetolive,
            submission_timetolive = excluded.submission_timetolive,
            receipt_regexp = excluded.receipt_regexp,
            fields_json = excluded.fields_json`,
		c.ID,
		c.Name,
		boolToInt(c.SelectableReceiver),
		c.EscalationThreshold,
		c.TipMaxAccess,
		c.FileMaxDownload,
		c.TipTimeToLive,
		c.SubmissionTimeToLive,
		c.ReceiptRegexp,
		string(fieldsJSON),
		formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert context: %w", err)
	}
	return nil
}

// ContextByID fetches a context. It returns nil when the context does not exist.
func (t *Tx) ContextByID(ctx context.Context, id string) (*Context, error) {
	row := t.queryRow(ctx, `SELECT `+contextColumns+` FROM contexts WHERE id = ?`, id)
	c, err := scanContext(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get context: %w", err)
	}
	return c, nil
}

// Contexts lists every configured context ordered by name.
func (t *Tx) Contexts(ctx context.Context) ([]*Context, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+contextColumns+` FROM contexts ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()

	var out []*Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertReceiver inserts or replaces a receiver definition.
func (t *Tx) UpsertReceiver(ctx context.Context, r *Receiver) error {
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.KeyStatus == "" {
		r.KeyStatus = KeyNone
	}
	_, err := t.exec(ctx, `INSERT INTO receivers (`+receiverColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            email = excluded.email,
            age_recipient = excluded.age_recipient,
            encrypt_files = excluded.encrypt_files,
            encrypt_notifications = excluded.encrypt_notifications,
            key_status = excluded.key_status,
            receiver_level = excluded.receiver_level`,
		r.ID,
		r.Name,
		r.Email,
		nullableString(r.AgeRecipient),
		boolToInt(r.EncryptFiles),
		boolToInt(r.EncryptNotifications),
		string(r.KeyStatus),
		r.Level,
		formatTime(r.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert receiver: %w", err)
	}
	return nil
}

// ReceiverByID fetches a receiver. It returns nil when the receiver does not exist.
func (t *Tx) ReceiverByID(ctx context.Context, id string) (*Receiver, error) {
	row := t.queryRow(ctx, `SELECT `+receiverColumns+` FROM receivers WHERE id = ?`, id)
	r, err := scanReceiver(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receiver: %w", err)
	}
	return r, nil
}

// Receivers lists every configured receiver ordered by name.
func (t *Tx) Receivers(ctx context.Context) ([]*Receiver, error) {
	return t.queryReceivers(ctx, `SELECT `+receiverColumns+` FROM receivers ORDER BY name, id`)
}

// ReceiversByIDs loads the given receivers, skipping unknown ids.
func (t *Tx) ReceiversByIDs(ctx context.Context, ids []string) ([]*Receiver, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + receiverColumns + ` FROM receivers WHERE id IN (` + makePlaceholders(len(ids)) + `) ORDER BY name, id`
	return t.queryReceivers(ctx, query, stringArgs(ids)...)
}

// ReceiversForContext lists the receivers configured for a context.
func (t *Tx) ReceiversForContext(ctx context.Context, contextID string) ([]*Receiver, error) {
	return t.queryReceivers(ctx, `SELECT r.id, r.name, r.email, r.age_recipient, r.encrypt_files,
        r.encrypt_notifications, r.key_status, r.receiver_level, r.created_at
        FROM receivers r
        JOIN receiver_contexts rc ON rc.receiver_id = r.id
        WHERE rc.context_id = ?
        ORDER BY r.name, r.id`, contextID)
}

// ReceiverInContext reports whether a receiver is configured for a context.
func (t *Tx) ReceiverInContext(ctx context.Context, receiverID, contextID string) (bool, error) {
	n, err := t.count(ctx, `SELECT COUNT(1) FROM receiver_contexts WHERE receiver_id = ? AND context_id = ?`, receiverID, contextID)
	if err != nil {
		return false, fmt.Errorf("check receiver context: %w", err)
	}
	return n > 0, nil
}

// LinkReceiver associates a receiver with a context. Existing links are kept.
func (t *Tx) LinkReceiver(ctx context.Context, receiverID, contextID string) error {
	_, err := t.exec(ctx, `INSERT INTO receiver_contexts (receiver_id, context_id) VALUES (?, ?)
        ON CONFLICT DO NOTHING`, receiverID, contextID)
	if err != nil {
		return fmt.Errorf("link receiver: %w", err)
	}
	return nil
}

// UnlinkContextReceivers removes every receiver association of a context.
func (t *Tx) UnlinkContextReceivers(ctx context.Context, contextID string) error {
	if _, err := t.exec(ctx, `DELETE FROM receiver_contexts WHERE context_id = ?`, contextID); err != nil {
		return fmt.Errorf("unlink receivers: %w", err)
	}
	return nil
}

// SetReceiverKeyStatus records the outcome of a recipient key check.
func (t *Tx) SetReceiverKeyStatus(ctx context.Context, receiverID string, status KeyStatus) error {
	if _, err := t.exec(ctx, `UPDATE receivers SET key_status = ? WHERE id = ?`, string(status), receiverID); err != nil {
		return fmt.Errorf("set key status: %w", err)
	}
	return nil
}

func (t *Tx) queryReceivers(ctx context.Context, query string, args ...any) ([]*Receiver, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receivers: %w", err)
	}
	defer rows.Close()

	var out []*Receiver
	for rows.Next() {
		r, err := scanReceiver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
