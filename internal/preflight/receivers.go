package preflight

import (
	"context"
	"fmt"
	"strings"

	"tipline/internal/store"
)

// CheckReceiverKeys audits receivers that expect encrypted files. Receivers
// without a usable key get unreadable file copies, so they are listed here.
func CheckReceiverKeys(ctx context.Context, st *store.Store) Result {
	const name = "Receiver keys"

	var broken []string
	err := st.Transact(ctx, func(tx *store.Tx) error {
		broken = broken[:0]
		receivers, err := tx.Receivers(ctx)
		if err != nil {
			return err
		}
		for _, r := range receivers {
			if (r.EncryptFiles || r.EncryptNotifications) && !r.HasUsableKey() {
				broken = append(broken, fmt.Sprintf("%s (%s)", r.Name, r.KeyStatus))
			}
		}
		return nil
	})
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("audit failed (%v)", err)}
	}
	if len(broken) > 0 {
		return Result{Name: name, Optional: true, Detail: "unusable: " + strings.Join(broken, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: "all encrypting receivers have usable keys"}
}
