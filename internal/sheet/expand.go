package sheet

import (
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/model"
)

// SnapshotContext carries the identity of the snapshot the expanded rows
// will belong to.
type SnapshotContext struct {
	SnapshotID string
	Triple     model.Triple
}

// Expand multiplies decoded rows out to unit-quantity ledger rows.
//
// Rows with a blank inventory code are spreadsheet subtotal and footer
// lines; they are skipped with a log line rather than an error. A row with
// quantity N yields N contiguous identical ledger rows. Order of distinct
// rows follows sheet order. Expand performs no I/O.
func Expand(rows []Row, snap SnapshotContext) []model.LedgerRow {
	out := make([]model.LedgerRow, 0, len(rows))
	pos := 0
	for i, r := range rows {
		if r.InventoryCode == "" {
			zap.L().Debug("sheet: skipping row without inventory code",
				zap.Int("row", i+1),
				zap.String("material", r.Material),
			)
			continue
		}

		for q := resolveQuantity(r.Quantity); q > 0; q-- {
			out = append(out, model.LedgerRow{
				SnapshotID:    snap.SnapshotID,
				Triple:        snap.Triple,
				InventoryCode: r.InventoryCode,
				BatchCode:     r.BatchCode,
				Name:          r.Name,
				Pos:           pos,
			})
			pos++
		}
	}
	return out
}

// resolveQuantity parses the closing-balance cell. Missing, non-numeric and
// non-positive values resolve to 1; fractional values truncate toward zero.
func resolveQuantity(raw string) int {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, " ", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 1
	}
	q := int(f)
	if q <= 0 {
		return 1
	}
	return q
}
