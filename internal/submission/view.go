package submission

import (
	"context"
	"time"

	"tipline/internal/store"
)

// TipView is the data returned to whistleblower-facing callers.
type TipView struct {
	ID                  string            `json:"id"`
	ContextID           string            `json:"context_id"`
	CreationDate        time.Time         `json:"creation_date"`
	ExpirationDate      time.Time         `json:"expiration_date"`
	EscalationThreshold int               `json:"escalation_threshold"`
	DownloadLimit       int               `json:"download_limit"`
	AccessLimit         int               `json:"access_limit"`
	PertinenceCounter   int               `json:"pertinence_counter"`
	Mark                store.Mark        `json:"mark"`
	Status              string            `json:"status"`
	Fields              map[string]string `json:"wb_fields"`
	Receivers           []string          `json:"receivers"`
	Files               []string          `json:"files"`
	// Receipt is set only on the call that finalized the tip.
	Receipt       string     `json:"receipt,omitempty"`
	AccessCounter int        `json:"access_counter,omitempty"`
	LastAccess    *time.Time `json:"last_access,omitempty"`
}

func loadView(ctx context.Context, tx *store.Tx, tip *store.InternalTip) (*TipView, error) {
	receivers, err := tx.TipReceiverIDs(ctx, tip.ID)
	if err != nil {
		return nil, err
	}
	files, err := tx.TipFileIDs(ctx, tip.ID)
	if err != nil {
		return nil, err
	}
	fields := tip.Fields
	if fields == nil {
		fields = map[string]string{}
	}
	if receivers == nil {
		receivers = []string{}
	}
	if files == nil {
		files = []string{}
	}
	return &TipView{
		ID:                  tip.ID,
		ContextID:           tip.ContextID,
		CreationDate:        tip.CreationDate,
		ExpirationDate:      tip.ExpirationDate,
		EscalationThreshold: tip.EscalationThreshold,
		DownloadLimit:       tip.DownloadLimit,
		AccessLimit:         tip.AccessLimit,
		PertinenceCounter:   tip.PertinenceCounter,
		Mark:                tip.Mark,
		Status:              tip.Mark.String(),
		Fields:              fields,
		Receivers:           receivers,
		Files:               files,
	}, nil
}
