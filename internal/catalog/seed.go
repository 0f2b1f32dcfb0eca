package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/pelletier/go-toml/v2"

	"tipline/internal/logging"
	"tipline/internal/services"
	"tipline/internal/store"
)

// Seed is the on-disk description of contexts and receivers.
type Seed struct {
	Receivers []ReceiverSeed `toml:"receivers"`
	Contexts  []ContextSeed  `toml:"contexts"`
}

// ReceiverSeed describes one receiver in a seed file.
type ReceiverSeed struct {
	ID                   string `toml:"id"`
	Name                 string `toml:"name"`
	Email                string `toml:"email"`
	AgeRecipient         string `toml:"age_recipient"`
	EncryptFiles         bool   `toml:"encrypt_files"`
	EncryptNotifications bool   `toml:"encrypt_notifications"`
	Level                int    `toml:"level"`
}

// ContextSeed describes one context in a seed file.
type ContextSeed struct {
	ID                   string        `toml:"id"`
	Name                 string        `toml:"name"`
	SelectableReceiver   bool          `toml:"selectable_receiver"`
	EscalationThreshold  int           `toml:"escalation_threshold"`
	TipMaxAccess         int           `toml:"tip_max_access"`
	FileMaxDownload      int           `toml:"file_max_download"`
	TipTimeToLive        int           `toml:"tip_timetolive"`
	SubmissionTimeToLive int           `toml:"submission_timetolive"`
	ReceiptRegexp        string        `toml:"receipt_regexp"`
	Receivers            []string      `toml:"receivers"`
	Fields               []store.Field `toml:"fields"`
}

// LoadSeed decodes a seed file. Unknown keys are rejected.
func LoadSeed(path string) (*Seed, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	var seed Seed
	if err := decoder.Decode(&seed); err != nil {
		return nil, services.Wrap(services.ErrValidation, "catalog", "decode seed", path, err)
	}
	return &seed, nil
}

// Catalog applies validated configuration to the store.
type Catalog struct {
	store  *store.Store
	logger *slog.Logger
}

// New constructs a Catalog.
func New(st *store.Store, logger *slog.Logger) *Catalog {
	return &Catalog{store: st, logger: logging.NewComponentLogger(logger, "catalog")}
}

// ApplyResult summarizes an Apply call.
type ApplyResult struct {
	Contexts  int
	Receivers int
	Links     int
}

// Apply validates every entry of seed and stores them in one transaction.
// Nothing is written when any entry is invalid. Contexts listed in the seed
// have their receiver links replaced by the seed's list.
func (c *Catalog) Apply(ctx context.Context, seed *Seed) (ApplyResult, error) {
	var result ApplyResult

	receivers := make([]*store.Receiver, 0, len(seed.Receivers))
	known := make(map[string]struct{}, len(seed.Receivers))
	for _, rs := range seed.Receivers {
		r := &store.Receiver{
			ID:                   rs.ID,
			Name:                 rs.Name,
			Email:                rs.Email,
			AgeRecipient:         rs.AgeRecipient,
			EncryptFiles:         rs.EncryptFiles,
			EncryptNotifications: rs.EncryptNotifications,
			Level:                rs.Level,
		}
		if r.ID == "" {
			return result, services.Wrap(services.ErrValidation, "catalog", "receiver", rs.Name+": id is required", nil)
		}
		if err := ValidateReceiver(r); err != nil {
			return result, err
		}
		receivers = append(receivers, r)
		known[r.ID] = struct{}{}
	}

	contexts := make([]*store.Context, 0, len(seed.Contexts))
	for _, cs := range seed.Contexts {
		sc := &store.Context{
			ID:                   cs.ID,
			Name:                 cs.Name,
			SelectableReceiver:   cs.SelectableReceiver,
			EscalationThreshold:  cs.EscalationThreshold,
			TipMaxAccess:         cs.TipMaxAccess,
			FileMaxDownload:      cs.FileMaxDownload,
			TipTimeToLive:        cs.TipTimeToLive,
			SubmissionTimeToLive: cs.SubmissionTimeToLive,
			ReceiptRegexp:        cs.ReceiptRegexp,
			Fields:               append([]store.Field(nil), cs.Fields...),
		}
		if sc.ID == "" {
			return result, services.Wrap(services.ErrValidation, "catalog", "context", cs.Name+": id is required", nil)
		}
		if err := ValidateContext(sc); err != nil {
			return result, err
		}
		contexts = append(contexts, sc)
	}

	err := c.store.Transact(ctx, func(tx *store.Tx) error {
		result = ApplyResult{}
		for _, r := range receivers {
			if err := tx.UpsertReceiver(ctx, r); err != nil {
				return err
			}
			result.Receivers++
		}
		for i, sc := range contexts {
			if err := tx.UpsertContext(ctx, sc); err != nil {
				return err
			}
			if err := tx.UnlinkContextReceivers(ctx, sc.ID); err != nil {
				return err
			}
			for _, rid := range seed.Contexts[i].Receivers {
				if _, ok := known[rid]; !ok {
					existing, err := tx.ReceiverByID(ctx, rid)
					if err != nil {
						return err
					}
					if existing == nil {
						return services.Wrap(services.ErrNotFound, "catalog", "context "+sc.ID, "unknown receiver "+rid, nil)
					}
				}
				if err := tx.LinkReceiver(ctx, rid, sc.ID); err != nil {
					return err
				}
				result.Links++
			}
			result.Contexts++
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}

	c.logger.Info("catalog applied",
		logging.Int("contexts", result.Contexts),
		logging.Int("receivers", result.Receivers),
		logging.Int("links", result.Links),
	)
	return result, nil
}

// CreateContext validates and stores a single context linked to receiverIDs.
// Every receiver must already exist.
func (c *Catalog) CreateContext(ctx context.Context, sc *store.Context, receiverIDs []string) error {
	if err := ValidateContext(sc); err != nil {
		return err
	}
	return c.store.Transact(ctx, func(tx *store.Tx) error {
		for _, rid := range receiverIDs {
			existing, err := tx.ReceiverByID(ctx, rid)
			if err != nil {
				return err
			}
			if existing == nil {
				return services.Wrap(services.ErrNotFound, "catalog", "context", "unknown receiver "+rid, nil)
			}
		}
		if err := tx.UpsertContext(ctx, sc); err != nil {
			return err
		}
		for _, rid := range receiverIDs {
			if err := tx.LinkReceiver(ctx, rid, sc.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateReceiver validates and stores a single receiver.
func (c *Catalog) CreateReceiver(ctx context.Context, r *store.Receiver) error {
	if err := ValidateReceiver(r); err != nil {
		return err
	}
	return c.store.Transact(ctx, func(tx *store.Tx) error {
		return tx.UpsertReceiver(ctx, r)
	})
}
