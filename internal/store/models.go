package store

import "time"

// Mark is the lifecycle state of an internal tip.
type Mark int

const (
	MarkSubmission  Mark = 0
	MarkFinalized   Mark = 1
	MarkFirstLevel  Mark = 2
	MarkSecondLevel Mark = 3
)

// Marks lists every persisted internal tip state in lifecycle order.
var Marks = []Mark{MarkSubmission, MarkFinalized, MarkFirstLevel, MarkSecondLevel}

// String returns the lowercase label for a mark.
func (m Mark) String() string {
	switch m {
	case MarkSubmission:
		return "submission"
	case MarkFinalized:
		return "finalized"
	case MarkFirstLevel:
		return "first_level"
	case MarkSecondLevel:
		return "second_level"
	default:
		return "unknown"
	}
}

// NotificationMark tracks mail delivery for receiver tips, comments, and receiver files.
type NotificationMark string

const (
	NotificationPending NotificationMark = "not_notified"
	NotificationSending NotificationMark = "notifying"
	NotificationSent    NotificationMark = "notified"
	NotificationFailed  NotificationMark = "unable_to_notify"
)

// FileStatus is the delivery state of a receiver file.
type FileStatus string

const (
	FileProcessing FileStatus = "processing"
	FileReady      FileStatus = "ready"
	FileNoKey      FileStatus = "nokey"
	FileUnreadable FileStatus = "unreadable"
)

// InternalFileMark is the delivery state of an uploaded artifact.
type InternalFileMark string

const (
	InternalFileSubmitted InternalFileMark = "submitted"
	InternalFileDelivered InternalFileMark = "delivered"
)

// CommentType identifies the author class of a comment.
type CommentType string

const (
	CommentWhistleblower CommentType = "whistleblower"
	CommentReceiver      CommentType = "receiver"
	CommentSystem        CommentType = "system"
)

// KeyStatus records whether a receiver's recipient key is usable.
type KeyStatus string

const (
	KeyNone    KeyStatus = "none"
	KeyValid   KeyStatus = "valid"
	KeyInvalid KeyStatus = "invalid"
)

// Field describes one whistleblower form field of a context.
type Field struct {
	Key          string `json:"key" toml:"key"`
	Label        string `json:"label" toml:"label"`
	Required     bool   `json:"required" toml:"required"`
	Type         string `json:"type" toml:"type"`
	Presentation int    `json:"presentation_order" toml:"presentation_order"`
}

// Context is the configuration template governing a class of submissions.
type Context struct {
	ID                   string
	Name                 string
	SelectableReceiver   bool
	EscalationThreshold  int
	TipMaxAccess         int
	FileMaxDownload      int
	TipTimeToLive        int // days
	SubmissionTimeToLive int // hours
	ReceiptRegexp        string
	Fields               []Field
	CreatedAt            time.Time
}

// TipLifeSeconds returns tip_timetolive in seconds.
func (c *Context) TipLifeSeconds() int64 {
	return int64(c.TipTimeToLive) * 86400
}

// SubmissionLifeSeconds returns submission_timetolive in seconds.
func (c *Context) SubmissionLifeSeconds() int64 {
	return int64(c.SubmissionTimeToLive) * 3600
}

// Receiver is a configured recipient of tips.
type Receiver struct {
	ID                   string
	Name                 string
	Email                string
	AgeRecipient         string
	EncryptFiles         bool
	EncryptNotifications bool
	KeyStatus            KeyStatus
	Level                int
	CreatedAt            time.Time
}

// HasUsableKey reports whether files and notifications can be encrypted for the receiver.
func (r *Receiver) HasUsableKey() bool {
	return r.AgeRecipient != "" && r.KeyStatus == KeyValid
}

// InternalTip is the canonical stored report.
type InternalTip struct {
	ID                  string
	ContextID           string
	CreationDate        time.Time
	ExpirationDate      time.Time
	EscalationThreshold int
	DownloadLimit       int
	AccessLimit         int
	PertinenceCounter   int
	Mark                Mark
	Fields              map[string]string
}

// TipUpdate carries the mutable attributes of an internal tip. Nil members
// are left unchanged.
type TipUpdate struct {
	Fields map[string]string
	Mark   *Mark
}

// WhistleblowerTip is the whistleblower's access record for a finalized tip.
type WhistleblowerTip struct {
	ID            string
	InternalTipID string
	ReceiptHash   string
	AccessCounter int
	LastAccess    *time.Time
	CreationDate  time.Time
}

// ReceiverTip is the per-receiver view of a tip.
type ReceiverTip struct {
	ID               string
	InternalTipID    string
	ReceiverID       string
	Mark             NotificationMark
	AccessCounter    int
	NotificationDate *time.Time
	LastAccess       *time.Time
	CreationDate     time.Time
}

// InternalFile is an uploaded whistleblower artifact. InternalTipID is empty
// until a submission claims the upload.
type InternalFile struct {
	ID            string
	InternalTipID string
	Name          string
	Size          int64
	ContentType   string
	FilePath      string
	Mark          InternalFileMark
	SHA256        string
	CreationDate  time.Time
}

// ReceiverFile is the per-receiver copy of an internal file.
type ReceiverFile struct {
	ID               string
	InternalFileID   string
	InternalTipID    string
	ReceiverID       string
	FilePath         string
	Size             int64
	Downloads        int
	LastAccess       *time.Time
	Status           FileStatus
	NotificationMark NotificationMark
	CreationDate     time.Time
}

// Comment is a message attached to a tip.
type Comment struct {
	ID               string
	InternalTipID    string
	AuthorID         string
	Type             CommentType
	Content          string
	NotificationMark NotificationMark
	CreationDate     time.Time
}

// Expirable projects an internal tip onto the data the cleaning sweep needs.
type Expirable struct {
	ID           string
	CreationDate time.Time
	LifeSeconds  int64
}

// Counts summarizes row counts used by the statistics job and status output.
type Counts struct {
	TipsByMark        map[Mark]int       `json:"tips_by_mark"`
	ReceiverTips      int                `json:"receiver_tips"`
	WhistleblowerTips int                `json:"whistleblower_tips"`
	InternalFiles     int                `json:"internal_files"`
	ReceiverFiles     map[FileStatus]int `json:"receiver_files"`
	Comments          int                `json:"comments"`
	PendingMail       int                `json:"pending_notifications"`
}

// StatsRecord is one persisted statistics snapshot.
type StatsRecord struct {
	ID      string
	Start   time.Time
	Summary Counts
}
