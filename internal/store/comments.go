package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const commentColumns = "id, internaltip_id, author_id, type, content, notification_mark, creation_date"

func scanComment(scanner rowScanner) (*Comment, error) {
	var (
		c           Comment
		author      sql.NullString
		kind        string
		notifyMark  string
		creationRaw string
	)
	if err := scanner.Scan(&c.ID, &c.InternalTipID, &author, &kind, &c.Content, &notifyMark, &creationRaw); err != nil {
		return nil, err
	}
	c.AuthorID = author.String
	c.Type = CommentType(kind)
	c.NotificationMark = NotificationMark(notifyMark)
	if created, err := parseTimeString(creationRaw); err == nil {
		c.CreationDate = created
	}
	return &c, nil
}

// AddComment appends a comment to a tip.
func (t *Tx) AddComment(ctx context.Context, c *Comment) error {
	if c.ID == "" {
		c.ID = newID()
	}
	if c.CreationDate.IsZero() {
		c.CreationDate = time.Now().UTC()
	}
	if c.NotificationMark == "" {
		c.NotificationMark = NotificationPending
	}
	_, err := t.exec(ctx, `INSERT INTO comments (`+commentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.InternalTipID, nullableString(c.AuthorID), string(c.Type), c.Content, string(c.NotificationMark), formatTime(c.CreationDate))
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	return nil
}

// CommentsByTip lists the comments of a tip in creation order.
func (t *Tx) CommentsByTip(ctx context.Context, tipID string) ([]*Comment, error) {
	return t.queryComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE internaltip_id = ? ORDER BY creation_date, id`, tipID)
}

// CommentsPendingNotification lists comments not yet announced to receivers.
func (t *Tx) CommentsPendingNotification(ctx context.Context) ([]*Comment, error) {
	return t.queryComments(ctx, `SELECT `+commentColumns+` FROM comments WHERE notification_mark = ? ORDER BY creation_date, id`,
		string(NotificationPending))
}

// ClaimCommentNotification moves a comment from not_notified to notifying.
func (t *Tx) ClaimCommentNotification(ctx context.Context, id string) (bool, error) {
	return t.claimNotification(ctx, "comments", "notification_mark", id)
}

// FinishCommentNotification records the send outcome of a claimed comment.
func (t *Tx) FinishCommentNotification(ctx context.Context, id string, outcome NotificationMark) error {
	_, err := t.exec(ctx, `UPDATE comments SET notification_mark = ? WHERE id = ? AND notification_mark = ?`,
		string(outcome), id, string(NotificationSending))
	if err != nil {
		return fmt.Errorf("finish comment notification: %w", err)
	}
	return nil
}

func (t *Tx) queryComments(ctx context.Context, query string, args ...any) ([]*Comment, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var out []*Comment
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
