// Package store persists ledger snapshots, ledger rows and inventory
// objects. Two backends are provided: PostgreSQL via pgx for shared
// deployments and SQLite for local mode and tests.
package store

import (
	"context"

	"github.com/sells-group/stockledger/internal/model"
)

// Tx exposes the repository primitives available inside one transaction.
// The snapshot swap and reconciliation algorithms in the ledger package are
// written against this interface so that their atomicity does not depend on
// a particular storage engine.
type Tx interface {
	// ActiveSnapshot returns the active snapshot for a triple, or nil.
	ActiveSnapshot(ctx context.Context, triple model.Triple) (*model.Snapshot, error)

	// InsertSnapshot inserts a snapshot record as inactive.
	InsertSnapshot(ctx context.Context, snap model.Snapshot) error

	// SetSnapshotActive flips the active flag on a snapshot.
	SetSnapshotActive(ctx context.Context, id string, active bool) error

	// DeleteRowsByTriple deletes every ledger row for the triple, whichever
	// snapshot it belongs to.
	DeleteRowsByTriple(ctx context.Context, triple model.Triple) (int64, error)

	// DeleteExcessRows deletes the synthetic excess rows for the triple.
	DeleteExcessRows(ctx context.Context, triple model.Triple) (int64, error)

	// BulkInsertRows inserts ledger rows in one batch.
	BulkInsertRows(ctx context.Context, rows []model.LedgerRow) (int64, error)

	// Rows returns all ledger rows for the triple in stable sheet order.
	Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error)

	// NonExcessRows returns the non-synthetic rows for the triple in stable
	// sheet order.
	NonExcessRows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error)

	// UpdateBackedFlags sets backed on the given row ids in one statement.
	UpdateBackedFlags(ctx context.Context, ids []int64, backed bool) error

	// ListInventory returns the non-decommissioned inventory objects for a
	// factory and warehouse.
	ListInventory(ctx context.Context, factory int, warehouse string) ([]model.InventoryObject, error)
}

// Store is the persistence interface for the ingestion pipeline.
type Store interface {
	// WithTx runs fn inside one all-or-nothing transaction using the
	// strongest isolation the backend offers for read-modify-write
	// sequences.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// Read-only queries outside a transaction.
	ActiveSnapshot(ctx context.Context, triple model.Triple) (*model.Snapshot, error)
	ActiveSnapshots(ctx context.Context, factory int, warehouse string) ([]model.Snapshot, error)
	Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error)
	ListInventory(ctx context.Context, factory int, warehouse string) ([]model.InventoryObject, error)

	// User-driven row mutations. Reconciliation never rewrites the ignored
	// flag, so these survive any number of reconciliation passes.
	SetRowIgnored(ctx context.Context, rowID int64, ignored bool) error
	SetRowsIgnoredByKey(ctx context.Context, inventoryCode, batchCode string, ignored bool) (int64, error)

	// Inventory maintenance (owned by the inventory module; exposed here so
	// object changes can drive reconciliation re-runs).
	UpsertInventoryObject(ctx context.Context, obj model.InventoryObject) error
	DeleteInventoryObject(ctx context.Context, obj model.InventoryObject) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
