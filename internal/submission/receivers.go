package submission

import (
	"context"
	"fmt"

	"tipline/internal/store"
)

// importReceivers associates receivers with a tip. Contexts without
// selectable receivers route every submission to all their receivers and
// ignore ids. Otherwise each id must name a receiver of the context; when
// required, at least one receiver must end up associated.
func importReceivers(ctx context.Context, tx *store.Tx, tipID string, c *store.Context, ids []string, required bool) error {
	if !c.SelectableReceiver {
		receivers, err := tx.ReceiversForContext(ctx, c.ID)
		if err != nil {
			return err
		}
		for _, r := range receivers {
			if err := tx.AddTipReceiver(ctx, tipID, r.ID); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range ids {
		r, err := tx.ReceiverByID(ctx, id)
		if err != nil {
			return err
		}
		if r == nil {
			return fmt.Errorf("%w: %s", ErrReceiverNotFound, id)
		}
		member, err := tx.ReceiverInContext(ctx, id, c.ID)
		if err != nil {
			return err
		}
		if !member {
			return fmt.Errorf("%w: receiver %s is not part of context %s", ErrInvalidReceiverSelection, id, c.ID)
		}
		if err := tx.AddTipReceiver(ctx, tipID, id); err != nil {
			return err
		}
	}

	if required {
		current, err := tx.TipReceiverIDs(ctx, tipID)
		if err != nil {
			return err
		}
		if len(current) == 0 {
			return fmt.Errorf("%w: no receiver selected", ErrInvalidReceiverSelection)
		}
	}
	return nil
}

// importFiles attaches pre-uploaded files to a tip. Files are additive.
func importFiles(ctx context.Context, tx *store.Tx, tipID string, ids []string) error {
	for _, id := range ids {
		f, err := tx.InternalFileByID(ctx, id)
		if err != nil {
			return err
		}
		if f == nil {
			return fmt.Errorf("%w: %s", ErrFileNotFound, id)
		}
		attached, err := tx.AttachFile(ctx, id, tipID)
		if err != nil {
			return err
		}
		if !attached {
			return fmt.Errorf("%w: %s belongs to another submission", ErrFileNotFound, id)
		}
	}
	return nil
}
