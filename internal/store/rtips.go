package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const receiverTipColumns = "id, internaltip_id, receiver_id, mark, access_counter, notification_date, last_access, creation_date"

func scanReceiverTip(scanner rowScanner) (*ReceiverTip, error) {
	var (
		rt           ReceiverTip
		mark         string
		notification sql.NullString
		lastAccess   sql.NullString
		creationRaw  string
	)
	if err := scanner.Scan(&rt.ID, &rt.InternalTipID, &rt.ReceiverID, &mark, &rt.AccessCounter, &notification, &lastAccess, &creationRaw); err != nil {
		return nil, err
	}
	rt.Mark = NotificationMark(mark)
	rt.NotificationDate = parseOptionalTime(notification.String)
	rt.LastAccess = parseOptionalTime(lastAccess.String)
	if created, err := parseTimeString(creationRaw); err == nil {
		rt.CreationDate = created
	}
	return &rt, nil
}

// EnsureReceiverTip creates the receiver tip for (tipID, receiverID) unless
// one already exists. It reports whether a row was inserted.
func (t *Tx) EnsureReceiverTip(ctx context.Context, tipID, receiverID string, now time.Time) (bool, error) {
	res, err := t.exec(ctx, `INSERT INTO receiver_tips (id, internaltip_id, receiver_id, mark, access_counter, creation_date)
        VALUES (?, ?, ?, ?, 0, ?)
        ON CONFLICT(internaltip_id, receiver_id) DO NOTHING`,
		newID(), tipID, receiverID, string(NotificationPending), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("ensure receiver tip: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure receiver tip rows: %w", err)
	}
	return n > 0, nil
}

// ReceiverTipIDs lists every receiver tip id of an internal tip.
func (t *Tx) ReceiverTipIDs(ctx context.Context, tipID string) ([]string, error) {
	ids, err := t.queryStrings(ctx, `SELECT id FROM receiver_tips WHERE internaltip_id = ? ORDER BY receiver_id`, tipID)
	if err != nil {
		return nil, fmt.Errorf("list receiver tip ids: %w", err)
	}
	return ids, nil
}

// ReceiverTipsByTip loads every receiver tip of an internal tip.
func (t *Tx) ReceiverTipsByTip(ctx context.Context, tipID string) ([]*ReceiverTip, error) {
	return t.queryReceiverTips(ctx, `SELECT `+receiverTipColumns+` FROM receiver_tips WHERE internaltip_id = ? ORDER BY receiver_id`, tipID)
}

// ReceiverTipsByMark loads receiver tips in the given notification state, oldest first.
func (t *Tx) ReceiverTipsByMark(ctx context.Context, mark NotificationMark) ([]*ReceiverTip, error) {
	return t.queryReceiverTips(ctx, `SELECT `+receiverTipColumns+` FROM receiver_tips WHERE mark = ? ORDER BY creation_date, id`, string(mark))
}

// ClaimReceiverTipNotification moves a receiver tip from not_notified to
// notifying. Only the caller that wins the transition may send mail.
func (t *Tx) ClaimReceiverTipNotification(ctx context.Context, id string) (bool, error) {
	return t.claimNotification(ctx, "receiver_tips", "mark", id)
}

// FinishReceiverTipNotification records the send outcome of a claimed receiver tip.
func (t *Tx) FinishReceiverTipNotification(ctx context.Context, id string, outcome NotificationMark, at time.Time) error {
	_, err := t.exec(ctx, `UPDATE receiver_tips SET mark = ?, notification_date = ? WHERE id = ? AND mark = ?`,
		string(outcome), formatTime(at), id, string(NotificationSending))
	if err != nil {
		return fmt.Errorf("finish receiver tip notification: %w", err)
	}
	return nil
}

// ResetInFlightNotifications returns rows left in notifying by an interrupted
// process to not_notified. It reports the number of rows reset.
func (t *Tx) ResetInFlightNotifications(ctx context.Context) (int64, error) {
	var total int64
	for _, target := range [][2]string{
		{"receiver_tips", "mark"},
		{"comments", "notification_mark"},
		{"receiver_files", "notification_mark"},
	} {
		res, err := t.exec(ctx, `UPDATE `+target[0]+` SET `+target[1]+` = ? WHERE `+target[1]+` = ?`,
			string(NotificationPending), string(NotificationSending))
		if err != nil {
			return total, fmt.Errorf("reset %s notifications: %w", target[0], err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

func (t *Tx) claimNotification(ctx context.Context, table, column, id string) (bool, error) {
	res, err := t.exec(ctx, `UPDATE `+table+` SET `+column+` = ? WHERE id = ? AND `+column+` = ?`,
		string(NotificationSending), id, string(NotificationPending))
	if err != nil {
		return false, fmt.Errorf("claim %s notification: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s notification rows: %w", table, err)
	}
	return n > 0, nil
}

func (t *Tx) queryReceiverTips(ctx context.Context, query string, args ...any) ([]*ReceiverTip, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receiver tips: %w", err)
	}
	defer rows.Close()

	var out []*ReceiverTip
	for rows.Next() {
		rt, err := scanReceiverTip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}
