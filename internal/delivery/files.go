package delivery

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tipline/internal/attachments"
	"tipline/internal/logging"
	"tipline/internal/store"
)

// FileResult counts receiver file outcomes produced by one fan-out.
type FileResult struct {
	Created    int
	Ready      int
	NoKey      int
	Unreadable int
}

func (r *FileResult) add(other FileResult) {
	r.Created += other.Created
	r.Ready += other.Ready
	r.NoKey += other.NoKey
	r.Unreadable += other.Unreadable
}

type fileJob struct {
	row      *store.ReceiverFile
	file     *store.InternalFile
	receiver *store.Receiver
}

type fileOutcome struct {
	id     string
	status store.FileStatus
	path   string
	size   int64
}

// FanOutFiles produces the receiver files of a finalized tip. A receiver
// whose key cannot be used gets an unreadable receiver file; other receivers
// are unaffected. Rows that already left the processing status are left
// untouched.
func (s *Scheduler) FanOutFiles(ctx context.Context, tipID string) (FileResult, error) {
	var (
		result FileResult
		jobs   []fileJob
		files  []*store.InternalFile
	)

	err := s.store.Transact(ctx, func(tx *store.Tx) error {
		result = FileResult{}
		jobs = jobs[:0]
		tip, err := requireFinalized(ctx, tx, tipID)
		if err != nil {
			return err
		}
		files, err = tx.TipFiles(ctx, tip.ID)
		if err != nil {
			return err
		}
		receiverIDs, err := tx.TipReceiverIDs(ctx, tip.ID)
		if err != nil {
			return err
		}
		receivers, err := tx.ReceiversByIDs(ctx, receiverIDs)
		if err != nil {
			return err
		}

		now := s.now()
		for _, f := range files {
			for _, r := range receivers {
				inserted, err := tx.EnsureReceiverFile(ctx, f, r.ID, now)
				if err != nil {
					return err
				}
				if inserted {
					result.Created++
				}
			}
		}

		pending, err := tx.ReceiverFilesByStatus(ctx, tip.ID, store.FileProcessing)
		if err != nil {
			return err
		}
		fileByID := make(map[string]*store.InternalFile, len(files))
		for _, f := range files {
			fileByID[f.ID] = f
		}
		receiverByID := make(map[string]*store.Receiver, len(receivers))
		for _, r := range receivers {
			receiverByID[r.ID] = r
		}
		for _, row := range pending {
			jobs = append(jobs, fileJob{row: row, file: fileByID[row.InternalFileID], receiver: receiverByID[row.ReceiverID]})
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	outcomes := make([]fileOutcome, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		outcomes = append(outcomes, s.produce(ctx, tipID, job))
	}

	var stale []string
	err = s.store.Transact(ctx, func(tx *store.Tx) error {
		completed := FileResult{Created: result.Created}
		stale = stale[:0]
		for _, o := range outcomes {
			ok, err := tx.CompleteReceiverFile(ctx, o.id, o.status, o.path, o.size)
			if err != nil {
				return err
			}
			if !ok {
				if o.status != store.FileReady {
					continue
				}
				owned, err := artifactRecorded(ctx, tx, o)
				if err != nil {
					return err
				}
				if !owned {
					stale = append(stale, o.path)
				}
				continue
			}
			switch o.status {
			case store.FileReady:
				completed.Ready++
			case store.FileNoKey:
				completed.NoKey++
			case store.FileUnreadable:
				completed.Unreadable++
			}
		}
		for _, f := range files {
			if _, err := tx.MarkInternalFileDelivered(ctx, f.ID); err != nil {
				return err
			}
		}
		result = completed
		return nil
	})
	if err != nil {
		return result, err
	}
	if len(stale) > 0 {
		removed, rmErr := attachments.RemoveArtifacts(stale)
		s.logger.Info("stale receiver file artifacts removed",
			logging.TipID(tipID),
			logging.Int("removed", removed),
		)
		if rmErr != nil {
			logging.WarnWithContext(s.logger, "stale artifact removal failed", "artifact_removal_failed",
				logging.TipID(tipID),
				logging.Error(rmErr),
				logging.Alert("artifact_cleanup"),
				logging.String(logging.FieldImpact, "encrypted artifact left on disk"),
				logging.String(logging.FieldErrorHint, "remove the listed files manually"),
			)
		}
	}

	if len(outcomes) > 0 {
		s.logger.Info("receiver files completed",
			logging.TipID(tipID),
			logging.Int("ready", result.Ready),
			logging.Int("nokey", result.NoKey),
			logging.Int("unreadable", result.Unreadable),
		)
	}
	return result, nil
}

// artifactRecorded reports whether a concurrent producer already recorded
// the artifact at o.path. A missing row means the tip was deleted while the
// artifact was being written.
func artifactRecorded(ctx context.Context, tx *store.Tx, o fileOutcome) (bool, error) {
	row, err := tx.ReceiverFileByID(ctx, o.id)
	if err != nil {
		return false, err
	}
	return row != nil && row.Status == store.FileReady && row.FilePath == o.path, nil
}

// produce builds the artifact for one receiver file. It never fails: errors
// are logged and turned into the unreadable status.
func (s *Scheduler) produce(ctx context.Context, tipID string, job fileJob) fileOutcome {
	out := fileOutcome{id: job.row.ID, status: store.FileUnreadable}
	logger := s.logger.With(logging.TipID(tipID), logging.ReceiverFileID(job.row.ID))

	if job.file == nil || job.receiver == nil {
		logging.WarnWithContext(logger, "receiver file has no source or receiver", "receiver_file_orphaned",
			logging.String(logging.FieldImpact, "receiver file marked unreadable"),
		)
		return out
	}
	logger = logger.With(logging.ReceiverID(job.receiver.ID))

	if !job.receiver.EncryptFiles {
		out.status = store.FileNoKey
		out.path = job.file.FilePath
		out.size = job.file.Size
		return out
	}
	if !job.receiver.HasUsableKey() {
		logging.WarnWithContext(logger, "receiver requires encryption but has no usable key", "receiver_key_unusable",
			logging.Alert("receiver_key"),
			logging.String(logging.FieldImpact, "receiver file marked unreadable"),
			logging.String(logging.FieldErrorHint, "update the receiver's age recipient"),
		)
		return out
	}

	dst := filepath.Join(s.dir, job.row.ID+".age")
	size, err := s.encryptFile(job.file.FilePath, dst, job.receiver.AgeRecipient)
	if err != nil {
		event := "file_encryption_failed"
		if isKeyError(err) {
			event = "receiver_key_invalid"
		}
		logging.WarnWithContext(logger, "file encryption failed", event,
			logging.Error(err),
			logging.Alert("file_encryption"),
			logging.String(logging.FieldImpact, "receiver file marked unreadable"),
		)
		return out
	}
	out.status = store.FileReady
	out.path = dst
	out.size = size
	return out
}

// encryptFile streams src through the encryptor into dst via a temporary
// file, so a failed encryption never leaves a partial artifact behind.
func (s *Scheduler) encryptFile(src, dst, recipient string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open source artifact: %w", err)
	}
	defer in.Close()

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(s.encryptor.EncryptStream(pw, in, recipient))
	}()
	size, _, err := attachments.WriteAtomic(dst, pr, 0o600, 0)
	_ = pr.CloseWithError(err)
	if err != nil {
		return 0, err
	}
	return size, nil
}
