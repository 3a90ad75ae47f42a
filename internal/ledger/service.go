// Package ledger implements the ingestion and reconciliation core: the
// atomic snapshot swap, the multiset reconciliation against inventory
// objects, and the orchestrator that ties decode, expand, swap and
// reconcile together for one incoming file.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/model"
	"github.com/sells-group/stockledger/internal/resilience"
	"github.com/sells-group/stockledger/internal/sheet"
	"github.com/sells-group/stockledger/internal/store"
)

// IngestResult is the outcome of one IngestFile call. Rejected is non-empty
// exactly when the file was turned away for an input-level reason; no
// snapshot is persisted in that case.
type IngestResult struct {
	InsertedRows int    `json:"inserted_rows"`
	Rejected     string `json:"rejected,omitempty"`
}

// Service is the pipeline entrypoint. All writes to the snapshot and ledger
// row tables go through the Manager and Engine it owns.
type Service struct {
	store    store.Store
	manager  *Manager
	engine   *Engine
	notifier Notifier
	retry    resilience.RetryConfig
}

// NewService creates the orchestrator. A nil notifier disables signals.
func NewService(st store.Store, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.ShouldRetry = store.IsSerializationFailure
	return &Service{
		store:    st,
		manager:  NewManager(st),
		engine:   NewEngine(st),
		notifier: notifier,
		retry:    cfg,
	}
}

// IngestFile processes one classified incoming file to completion: decode,
// expand, snapshot swap, reconcile, notify. Input-level problems come back
// as a rejection inside the result; an error return means infrastructure
// failure with unknown outcome, safe to retry wholesale.
func (s *Service) IngestFile(ctx context.Context, f *model.IncomingFile) (*IngestResult, error) {
	log := zap.L().With(
		zap.String("filename", f.Filename),
		zap.String("sender", f.Sender),
	)

	if f.InventoryCount {
		log.Info("ledger: rejecting inventory-count document")
		return &IngestResult{Rejected: ErrInventoryCountFile.Error()}, nil
	}
	if f.Warehouse == "" || f.DocType == "" {
		log.Warn("ledger: rejecting file without classification")
		return &IngestResult{Rejected: model.ErrMissingClassification.Error()}, nil
	}

	triple := f.TripleKey()
	log = log.With(zap.String("triple", triple.String()))

	// Fast path: the active snapshot already came from this file. Return
	// the persisted rows without re-decoding or re-reconciling.
	cur, err := s.store.ActiveSnapshot(ctx, triple)
	if err != nil {
		return nil, err
	}
	if cur != nil && cur.Filename == f.Filename {
		rows, err := s.store.Rows(ctx, triple)
		if err != nil {
			return nil, err
		}
		// Synthetic excess rows are a reconciliation artifact, not part of
		// the sheet; the count must match what the first ingest reported.
		n := 0
		for _, r := range rows {
			if !r.Excess {
				n++
			}
		}
		log.Debug("ledger: file already active, returning existing rows", zap.Int("rows", n))
		return &IngestResult{InsertedRows: n}, nil
	}

	decoded, err := sheet.Decode(f.Payload)
	if err != nil {
		log.Warn("ledger: rejecting undecodable sheet", zap.Error(err))
		return &IngestResult{Rejected: err.Error()}, nil
	}

	snap := model.Snapshot{
		ID:        uuid.New().String(),
		Triple:    triple,
		Filename:  f.Filename,
		CreatedAt: time.Now().UTC(),
	}
	rows := sheet.Expand(decoded, sheet.SnapshotContext{SnapshotID: snap.ID, Triple: triple})

	var persisted []model.LedgerRow
	err = resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		var ingestErr error
		persisted, ingestErr = s.manager.Ingest(ctx, snap, rows)
		return ingestErr
	})
	if err != nil {
		return nil, err
	}

	if err := s.Reconcile(ctx, triple); err != nil {
		return nil, err
	}

	s.notifier.LedgerChanged(triple)
	log.Info("ledger: file ingested", zap.Int("rows", len(persisted)))
	return &IngestResult{InsertedRows: len(persisted)}, nil
}

// Reconcile recomputes the triple's reconciled state, retrying transaction
// conflicts since a re-run always starts from current state.
func (s *Service) Reconcile(ctx context.Context, triple model.Triple) error {
	return resilience.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.engine.Reconcile(ctx, triple)
	})
}

// Rows returns the active ledger rows for a triple, excess rows included.
func (s *Service) Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return s.store.Rows(ctx, triple)
}

// SetRowIgnored flips the user-owned ignored flag on one row. The flag
// survives reconciliation re-runs.
func (s *Service) SetRowIgnored(ctx context.Context, rowID int64, ignored bool) error {
	return s.store.SetRowIgnored(ctx, rowID, ignored)
}

// SetRowsIgnoredByKey flips the ignored flag on every non-excess row with
// the given inventory and batch code.
func (s *Service) SetRowsIgnoredByKey(ctx context.Context, inventoryCode, batchCode string, ignored bool) (int64, error) {
	return s.store.SetRowsIgnoredByKey(ctx, inventoryCode, batchCode, ignored)
}

// UpsertInventoryObject stores an inventory object and re-runs
// reconciliation for every open ledger in the object's factory and
// warehouse, since object changes have no other hook into open ledgers.
func (s *Service) UpsertInventoryObject(ctx context.Context, obj model.InventoryObject) error {
	if err := s.store.UpsertInventoryObject(ctx, obj); err != nil {
		return err
	}
	return s.reconcileWarehouse(ctx, obj.Factory, obj.Warehouse)
}

// DeleteInventoryObject removes an inventory object and re-runs
// reconciliation for affected open ledgers.
func (s *Service) DeleteInventoryObject(ctx context.Context, obj model.InventoryObject) error {
	if err := s.store.DeleteInventoryObject(ctx, obj); err != nil {
		return err
	}
	return s.reconcileWarehouse(ctx, obj.Factory, obj.Warehouse)
}

func (s *Service) reconcileWarehouse(ctx context.Context, factory int, warehouse string) error {
	snaps, err := s.store.ActiveSnapshots(ctx, factory, warehouse)
	if err != nil {
		return err
	}
	for _, sn := range snaps {
		if err := s.Reconcile(ctx, sn.Triple); err != nil {
			return err
		}
		s.notifier.LedgerChanged(sn.Triple)
	}
	return nil
}
