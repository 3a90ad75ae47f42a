package ledger

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/model"
	"github.com/sells-group/stockledger/internal/store"
)

// Engine matches ledger rows against inventory objects and derives the
// backed and excess state for a triple.
type Engine struct {
	store store.Store
}

// NewEngine creates an Engine on the given store.
func NewEngine(st store.Store) *Engine {
	return &Engine{store: st}
}

// Reconcile recomputes backed flags and excess rows for the triple in one
// transaction.
//
// Matching is multiset arithmetic on (factory, inventory code, batch code):
// sheet rows carry no object identity, so allocation is greedy in stable
// sheet order and ties between identical keys are resolved by row order
// alone. Inventory objects left unmatched become synthetic excess rows.
// The ignored flag is user state and is never touched here.
func (e *Engine) Reconcile(ctx context.Context, triple model.Triple) error {
	log := zap.L().With(zap.String("triple", triple.String()))

	err := e.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		active, err := tx.ActiveSnapshot(ctx, triple)
		if err != nil {
			return err
		}
		if active == nil {
			// Nothing to reconcile against; clear any stragglers.
			_, err := tx.DeleteExcessRows(ctx, triple)
			return err
		}

		objs, err := tx.ListInventory(ctx, triple.Factory, triple.Warehouse)
		if err != nil {
			return err
		}
		remaining := make(map[model.MatchKey]int, len(objs))
		for _, o := range objs {
			remaining[o.MatchKey()]++
		}

		// Excess rows are fully recomputed each pass.
		if _, err := tx.DeleteExcessRows(ctx, triple); err != nil {
			return err
		}

		rows, err := tx.NonExcessRows(ctx, triple)
		if err != nil {
			return err
		}

		var backed, unbacked []int64
		maxPos := -1
		for _, r := range rows {
			if r.Pos > maxPos {
				maxPos = r.Pos
			}
			key := r.MatchKey()
			if remaining[key] > 0 {
				remaining[key]--
				backed = append(backed, r.ID)
			} else {
				unbacked = append(unbacked, r.ID)
			}
		}

		if err := tx.UpdateBackedFlags(ctx, backed, true); err != nil {
			return err
		}
		if err := tx.UpdateBackedFlags(ctx, unbacked, false); err != nil {
			return err
		}

		excess := excessRows(remaining, active.ID, triple, maxPos)
		if _, err := tx.BulkInsertRows(ctx, excess); err != nil {
			return err
		}

		log.Info("ledger: reconciled",
			zap.Int("rows", len(rows)),
			zap.Int("backed", len(backed)),
			zap.Int("unbacked", len(unbacked)),
			zap.Int("excess", len(excess)),
		)
		return nil
	})
	if err != nil {
		return &ReconcileError{Triple: triple, Err: err}
	}
	return nil
}

// excessRows builds synthetic rows for inventory objects with no matching
// ledger line. Keys are emitted in sorted order so repeated passes produce
// identical row sequences.
func excessRows(remaining map[model.MatchKey]int, snapshotID string, triple model.Triple, maxPos int) []model.LedgerRow {
	keys := make([]model.MatchKey, 0, len(remaining))
	for k, n := range remaining {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].InventoryCode != keys[j].InventoryCode {
			return keys[i].InventoryCode < keys[j].InventoryCode
		}
		return keys[i].BatchCode < keys[j].BatchCode
	})

	var out []model.LedgerRow
	pos := maxPos + 1
	for _, k := range keys {
		for n := remaining[k]; n > 0; n-- {
			out = append(out, model.LedgerRow{
				SnapshotID:    snapshotID,
				Triple:        triple,
				InventoryCode: k.InventoryCode,
				BatchCode:     k.BatchCode,
				Name:          model.ExcessRowName,
				Backed:        true,
				Excess:        true,
				Pos:           pos,
			})
			pos++
		}
	}
	return out
}
