package attachments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"tipline/internal/logging"
	"tipline/internal/services"
	"tipline/internal/store"
)

// DefaultMaxUploadSize bounds a single upload when no limit is configured.
const DefaultMaxUploadSize int64 = 1 << 30

// Uploads stores whistleblower uploads under a single directory.
type Uploads struct {
	dir     string
	store   *store.Store
	logger  *slog.Logger
	maxSize int64
	now     func() time.Time
}

// New constructs an Uploads rooted at dir.
func New(dir string, st *store.Store, logger *slog.Logger) *Uploads {
	return &Uploads{
		dir:     dir,
		store:   st,
		logger:  logging.NewComponentLogger(logger, "attachments"),
		maxSize: DefaultMaxUploadSize,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetMaxSize overrides the per-upload size limit. Values <= 0 disable it.
func (u *Uploads) SetMaxSize(limit int64) {
	u.maxSize = limit
}

// Dir returns the attachments directory.
func (u *Uploads) Dir() string {
	return u.dir
}

// Save writes src to disk and records an unattached internal file for it.
// The file is removed again when the row cannot be stored.
func (u *Uploads) Save(ctx context.Context, name, contentType string, src io.Reader) (*store.InternalFile, error) {
	name = sanitizeName(name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	f := &store.InternalFile{
		ID:           uuid.NewString(),
		Name:         name,
		ContentType:  contentType,
		Mark:         store.InternalFileSubmitted,
		CreationDate: u.now(),
	}
	f.FilePath = filepath.Join(u.dir, f.ID+".upload")

	size, sum, err := WriteAtomic(f.FilePath, src, 0o600, u.maxSize)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, services.Wrap(services.ErrValidation, "attachments", "save", name, err)
		}
		return nil, services.Wrap(services.ErrTransient, "attachments", "save", name, err)
	}
	f.Size = size
	f.SHA256 = sum

	err = u.store.Transact(ctx, func(tx *store.Tx) error {
		return tx.InsertInternalFile(ctx, f)
	})
	if err != nil {
		_ = os.Remove(f.FilePath)
		return nil, err
	}

	u.logger.Info("upload stored",
		logging.FileID(f.ID),
		logging.String("name", f.Name),
		logging.Int64("size", f.Size),
	)
	return f, nil
}

// unsafeNameReplacer drops characters that are awkward in filenames and in
// the mail bodies that quote them.
var unsafeNameReplacer = strings.NewReplacer(
	":", "-",
	"*", "-",
	"?", "",
	"\"", "",
	"<", "",
	">", "",
	"|", "",
)

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(strings.ReplaceAll(name, "\\", "/")))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(unsafeNameReplacer.Replace(name))
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}
