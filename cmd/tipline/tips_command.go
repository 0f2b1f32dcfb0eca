package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"tipline/internal/store"
)

type tipRow struct {
	ID             string                         `json:"id"`
	ContextID      string                         `json:"context_id"`
	Mark           string                         `json:"mark"`
	Receivers      int                            `json:"receivers"`
	Files          map[store.FileStatus]int       `json:"receiver_files,omitempty"`
	Notifications  map[store.NotificationMark]int `json:"notifications,omitempty"`
	CreationDate   time.Time                      `json:"creation_date"`
	ExpirationDate time.Time                      `json:"expiration_date"`

	mark store.Mark
}

func newTipsCommand(ctx *commandContext) *cobra.Command {
	var markFilter string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tips",
		Short: "List tips and their lifecycle marks",
		RunE: func(cmd *cobra.Command, args []string) error {
			marks, err := parseMarks(markFilter)
			if err != nil {
				return err
			}
			rt, err := ctx.ensureRuntime()
			if err != nil {
				return err
			}
			rows, err := loadTipRows(cmd.Context(), rt.Store, marks)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, rows)
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No tips")
				return nil
			}
			fmt.Fprintln(out, renderTips(rows, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().StringVar(&markFilter, "mark", "", "Only list tips with this mark (submission, finalized, first_level, second_level)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func parseMarks(value string) ([]store.Mark, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return store.Marks, nil
	}
	for _, m := range store.Marks {
		if m.String() == value || strconv.Itoa(int(m)) == value {
			return []store.Mark{m}, nil
		}
	}
	return nil, fmt.Errorf("unknown mark %q", value)
}

func loadTipRows(ctx context.Context, st *store.Store, marks []store.Mark) ([]tipRow, error) {
	var rows []tipRow
	err := st.Transact(ctx, func(tx *store.Tx) error {
		rows = rows[:0]
		for _, mark := range marks {
			ids, err := tx.TipsByMark(ctx, mark)
			if err != nil {
				return err
			}
			for _, id := range ids {
				tip, err := tx.InternalTipByID(ctx, id)
				if err != nil {
					return err
				}
				if tip == nil {
					continue
				}
				receivers, err := tx.TipReceiverIDs(ctx, id)
				if err != nil {
					return err
				}
				row := tipRow{
					ID:             tip.ID,
					ContextID:      tip.ContextID,
					Mark:           tip.Mark.String(),
					Receivers:      len(receivers),
					CreationDate:   tip.CreationDate,
					ExpirationDate: tip.ExpirationDate,
					mark:           tip.Mark,
				}
				if err := tallyDelivery(ctx, tx, &row); err != nil {
					return err
				}
				rows = append(rows, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreationDate.Before(rows[j].CreationDate) })
	return rows, nil
}

// tallyDelivery counts the tip's receiver files by status and its receiver
// tips by notification outcome.
func tallyDelivery(ctx context.Context, tx *store.Tx, row *tipRow) error {
	files, err := tx.ReceiverFilesByTip(ctx, row.ID)
	if err != nil {
		return err
	}
	if len(files) > 0 {
		row.Files = make(map[store.FileStatus]int, 4)
		for _, f := range files {
			row.Files[f.Status]++
		}
	}
	rtips, err := tx.ReceiverTipsByTip(ctx, row.ID)
	if err != nil {
		return err
	}
	if len(rtips) > 0 {
		row.Notifications = make(map[store.NotificationMark]int, 4)
		for _, rt := range rtips {
			row.Notifications[rt.Mark]++
		}
	}
	return nil
}

var markTitle = cases.Title(language.English)

// markLabel turns "first_level" into "First Level".
func markLabel(mark string) string {
	return markTitle.String(strings.ReplaceAll(mark, "_", " "))
}

func renderTips(rows []tipRow, colorize bool) string {
	columns := []column{
		leftColumn("ID"),
		leftColumn("Context"),
		leftColumn("Mark"),
		rightColumn("Receivers"),
		leftColumn("Files"),
		leftColumn("Mail"),
		leftColumn("Created"),
		leftColumn("Expires"),
	}
	body := make([][]string, 0, len(rows))
	for _, r := range rows {
		body = append(body, []string{
			r.ID,
			r.ContextID,
			markKind(r.mark).paint(markLabel(r.Mark), colorize),
			strconv.Itoa(r.Receivers),
			renderTally(r.Files, fileStatusKind, colorize),
			renderTally(r.Notifications, notificationKind, colorize),
			r.CreationDate.Local().Format("2006-01-02 15:04"),
			r.ExpirationDate.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable(columns, body)
}
