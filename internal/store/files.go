package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const internalFileColumns = "id, internaltip_id, name, size, content_type, file_path, mark, sha256, creation_date"

const receiverFileColumns = "id, internalfile_id, internaltip_id, receiver_id, file_path, size, downloads, last_access, status, notification_mark, creation_date"

func scanInternalFile(scanner rowScanner) (*InternalFile, error) {
	var (
		f           InternalFile
		tipID       sql.NullString
		mark        string
		creationRaw string
	)
	if err := scanner.Scan(&f.ID, &tipID, &f.Name, &f.Size, &f.ContentType, &f.FilePath, &mark, &f.SHA256, &creationRaw); err != nil {
		return nil, err
	}
	f.InternalTipID = tipID.String
	f.Mark = InternalFileMark(mark)
	if created, err := parseTimeString(creationRaw); err == nil {
		f.CreationDate = created
	}
	return &f, nil
}

func scanReceiverFile(scanner rowScanner) (*ReceiverFile, error) {
	var (
		rf          ReceiverFile
		path        sql.NullString
		lastAccess  sql.NullString
		status      string
		notifyMark  string
		creationRaw string
	)
	if err := scanner.Scan(&rf.ID, &rf.InternalFileID, &rf.InternalTipID, &rf.ReceiverID, &path, &rf.Size, &rf.Downloads, &lastAccess, &status, &notifyMark, &creationRaw); err != nil {
		return nil, err
	}
	rf.FilePath = path.String
	rf.LastAccess = parseOptionalTime(lastAccess.String)
	rf.Status = FileStatus(status)
	rf.NotificationMark = NotificationMark(notifyMark)
	if created, err := parseTimeString(creationRaw); err == nil {
		rf.CreationDate = created
	}
	return &rf, nil
}

// InsertInternalFile stores an uploaded artifact. Uploads start unattached.
func (t *Tx) InsertInternalFile(ctx context.Context, f *InternalFile) error {
	if f.ID == "" {
		f.ID = newID()
	}
	if f.Mark == "" {
		f.Mark = InternalFileSubmitted
	}
	if f.CreationDate.IsZero() {
		f.CreationDate = time.Now().UTC()
	}
	_, err := t.exec(ctx, `INSERT INTO internal_files (`+internalFileColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, nullableString(f.InternalTipID), f.Name, f.Size, f.ContentType, f.FilePath, string(f.Mark), f.SHA256, formatTime(f.CreationDate))
	if err != nil {
		return fmt.Errorf("insert internal file: %w", err)
	}
	return nil
}

// InternalFileByID fetches an internal file. It returns nil when the file does not exist.
func (t *Tx) InternalFileByID(ctx context.Context, id string) (*InternalFile, error) {
	row := t.queryRow(ctx, `SELECT `+internalFileColumns+` FROM internal_files WHERE id = ?`, id)
	f, err := scanInternalFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get internal file: %w", err)
	}
	return f, nil
}

// AttachFile assigns an unattached upload to a tip. Attaching a file already
// owned by the same tip succeeds; a file owned by another tip is refused.
func (t *Tx) AttachFile(ctx context.Context, fileID, tipID string) (bool, error) {
	res, err := t.exec(ctx, `UPDATE internal_files SET internaltip_id = ?
        WHERE id = ? AND (internaltip_id IS NULL OR internaltip_id = ?)`, tipID, fileID, tipID)
	if err != nil {
		return false, fmt.Errorf("attach file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("attach file rows: %w", err)
	}
	return n > 0, nil
}

// TipFileIDs lists the internal files owned by a tip.
func (t *Tx) TipFileIDs(ctx context.Context, tipID string) ([]string, error) {
	ids, err := t.queryStrings(ctx, `SELECT id FROM internal_files WHERE internaltip_id = ? ORDER BY creation_date, id`, tipID)
	if err != nil {
		return nil, fmt.Errorf("list tip files: %w", err)
	}
	return ids, nil
}

// TipFiles loads the internal files owned by a tip.
func (t *Tx) TipFiles(ctx context.Context, tipID string) ([]*InternalFile, error) {
	return t.queryInternalFiles(ctx, `SELECT `+internalFileColumns+` FROM internal_files WHERE internaltip_id = ? ORDER BY creation_date, id`, tipID)
}

// OrphanFilesBefore lists uploads never claimed by a submission and created before cutoff.
func (t *Tx) OrphanFilesBefore(ctx context.Context, cutoff time.Time) ([]*InternalFile, error) {
	return t.queryInternalFiles(ctx, `SELECT `+internalFileColumns+` FROM internal_files
        WHERE internaltip_id IS NULL AND creation_date < ? ORDER BY creation_date, id`, formatTime(cutoff))
}

// DeleteOrphanFile removes an upload if it is still unattached.
func (t *Tx) DeleteOrphanFile(ctx context.Context, id string) (bool, error) {
	res, err := t.exec(ctx, `DELETE FROM internal_files WHERE id = ? AND internaltip_id IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("delete orphan file: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkInternalFileDelivered flags an internal file as delivered once none of
// its receiver files are still processing.
func (t *Tx) MarkInternalFileDelivered(ctx context.Context, fileID string) (bool, error) {
	res, err := t.exec(ctx, `UPDATE internal_files SET mark = ?
        WHERE id = ? AND mark = ?
        AND NOT EXISTS (SELECT 1 FROM receiver_files WHERE internalfile_id = ? AND status = ?)`,
		string(InternalFileDelivered), fileID, string(InternalFileSubmitted), fileID, string(FileProcessing))
	if err != nil {
		return false, fmt.Errorf("mark file delivered: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EnsureReceiverFile creates a processing placeholder for (file, receiver)
// unless one already exists. It reports whether a row was inserted.
func (t *Tx) EnsureReceiverFile(ctx context.Context, f *InternalFile, receiverID string, now time.Time) (bool, error) {
	res, err := t.exec(ctx, `INSERT INTO receiver_files (id, internalfile_id, internaltip_id, receiver_id, size, status, notification_mark, creation_date)
        VALUES (?, ?, ?, ?, 0, ?, ?, ?)
        ON CONFLICT(internalfile_id, receiver_id) DO NOTHING`,
		newID(), f.ID, f.InternalTipID, receiverID, string(FileProcessing), string(NotificationPending), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("ensure receiver file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure receiver file rows: %w", err)
	}
	return n > 0, nil
}

// ReceiverFilesByTip loads every receiver file of a tip.
func (t *Tx) ReceiverFilesByTip(ctx context.Context, tipID string) ([]*ReceiverFile, error) {
	return t.queryReceiverFiles(ctx, `SELECT `+receiverFileColumns+` FROM receiver_files WHERE internaltip_id = ? ORDER BY internalfile_id, receiver_id`, tipID)
}

// ReceiverFilesByStatus loads the receiver files of a tip in the given status.
func (t *Tx) ReceiverFilesByStatus(ctx context.Context, tipID string, status FileStatus) ([]*ReceiverFile, error) {
	return t.queryReceiverFiles(ctx, `SELECT `+receiverFileColumns+` FROM receiver_files
        WHERE internaltip_id = ? AND status = ? ORDER BY internalfile_id, receiver_id`, tipID, string(status))
}

// CompleteReceiverFile moves a processing receiver file to its final status.
// It reports false when another worker already completed the row.
func (t *Tx) CompleteReceiverFile(ctx context.Context, id string, status FileStatus, path string, size int64) (bool, error) {
	res, err := t.exec(ctx, `UPDATE receiver_files SET status = ?, file_path = ?, size = ?
        WHERE id = ? AND status = ?`, string(status), nullableString(path), size, id, string(FileProcessing))
	if err != nil {
		return false, fmt.Errorf("complete receiver file: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete receiver file rows: %w", err)
	}
	return n > 0, nil
}

// ReceiverFileByID fetches a receiver file. It returns nil when the row does not exist.
func (t *Tx) ReceiverFileByID(ctx context.Context, id string) (*ReceiverFile, error) {
	row := t.queryRow(ctx, `SELECT `+receiverFileColumns+` FROM receiver_files WHERE id = ?`, id)
	rf, err := scanReceiverFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receiver file: %w", err)
	}
	return rf, nil
}

// ReceiverFilesPendingNotification loads completed receiver files that have
// not been announced to their receiver.
func (t *Tx) ReceiverFilesPendingNotification(ctx context.Context) ([]*ReceiverFile, error) {
	return t.queryReceiverFiles(ctx, `SELECT `+receiverFileColumns+` FROM receiver_files
        WHERE status != ? AND notification_mark = ? ORDER BY creation_date, id`,
		string(FileProcessing), string(NotificationPending))
}

// ClaimReceiverFileNotification moves a receiver file from not_notified to notifying.
func (t *Tx) ClaimReceiverFileNotification(ctx context.Context, id string) (bool, error) {
	return t.claimNotification(ctx, "receiver_files", "notification_mark", id)
}

// FinishReceiverFileNotification records the send outcome of a claimed receiver file.
func (t *Tx) FinishReceiverFileNotification(ctx context.Context, id string, outcome NotificationMark) error {
	_, err := t.exec(ctx, `UPDATE receiver_files SET notification_mark = ? WHERE id = ? AND notification_mark = ?`,
		string(outcome), id, string(NotificationSending))
	if err != nil {
		return fmt.Errorf("finish receiver file notification: %w", err)
	}
	return nil
}

func (t *Tx) queryInternalFiles(ctx context.Context, query string, args ...any) ([]*InternalFile, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list internal files: %w", err)
	}
	defer rows.Close()

	var out []*InternalFile
	for rows.Next() {
		f, err := scanInternalFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (t *Tx) queryReceiverFiles(ctx context.Context, query string, args ...any) ([]*ReceiverFile, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receiver files: %w", err)
	}
	defer rows.Close()

	var out []*ReceiverFile
	for rows.Next() {
		rf, err := scanReceiverFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}
