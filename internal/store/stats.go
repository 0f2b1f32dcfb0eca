package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Counts aggregates row counts across the tip tables.
func (t *Tx) Counts(ctx context.Context) (Counts, error) {
	counts := Counts{
		TipsByMark:    map[Mark]int{},
		ReceiverFiles: map[FileStatus]int{},
	}

	rows, err := t.tx.QueryContext(ctx, `SELECT mark, COUNT(1) FROM internal_tips GROUP BY mark`)
	if err != nil {
		return counts, fmt.Errorf("count tips: %w", err)
	}
	for rows.Next() {
		var mark, n int
		if err := rows.Scan(&mark, &n); err != nil {
			rows.Close()
			return counts, err
		}
		counts.TipsByMark[Mark(mark)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return counts, err
	}

	rows, err = t.tx.QueryContext(ctx, `SELECT status, COUNT(1) FROM receiver_files GROUP BY status`)
	if err != nil {
		return counts, fmt.Errorf("count receiver files: %w", err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return counts, err
		}
		counts.ReceiverFiles[FileStatus(status)] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return counts, err
	}

	scalars := []struct {
		dst   *int
		query string
	}{
		{&counts.ReceiverTips, `SELECT COUNT(1) FROM receiver_tips`},
		{&counts.WhistleblowerTips, `SELECT COUNT(1) FROM whistleblower_tips`},
		{&counts.InternalFiles, `SELECT COUNT(1) FROM internal_files`},
		{&counts.Comments, `SELECT COUNT(1) FROM comments`},
		{&counts.PendingMail, `SELECT
            (SELECT COUNT(1) FROM receiver_tips WHERE mark = 'not_notified') +
            (SELECT COUNT(1) FROM comments WHERE notification_mark = 'not_notified') +
            (SELECT COUNT(1) FROM receiver_files WHERE notification_mark = 'not_notified' AND status != 'processing')`},
	}
	for _, s := range scalars {
		n, err := t.count(ctx, s.query)
		if err != nil {
			return counts, fmt.Errorf("count rows: %w", err)
		}
		*s.dst = n
	}
	return counts, nil
}

// InsertStats persists a statistics snapshot.
func (t *Tx) InsertStats(ctx context.Context, start time.Time, summary Counts) (*StatsRecord, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	record := &StatsRecord{ID: newID(), Start: start.UTC(), Summary: summary}
	if _, err := t.exec(ctx, `INSERT INTO stats (id, start, summary_json) VALUES (?, ?, ?)`,
		record.ID, formatTime(record.Start), string(data)); err != nil {
		return nil, fmt.Errorf("insert stats: %w", err)
	}
	return record, nil
}

// LatestStats returns the most recent statistics snapshot, or nil if none exists.
func (t *Tx) LatestStats(ctx context.Context) (*StatsRecord, error) {
	var (
		record   StatsRecord
		startRaw string
		raw      string
	)
	err := t.queryRow(ctx, `SELECT id, start, summary_json FROM stats ORDER BY start DESC LIMIT 1`).Scan(&record.ID, &startRaw, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest stats: %w", err)
	}
	if start, err := parseTimeString(startRaw); err == nil {
		record.Start = start
	}
	if err := json.Unmarshal([]byte(raw), &record.Summary); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &record, nil
}
