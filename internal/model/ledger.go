// Package model holds the plain data records shared across the ingestion
// and reconciliation pipeline.
package model

import (
	"fmt"
	"time"
)

// ExcessRowName is the descriptive name given to synthetic rows created for
// inventory objects that have no matching line in the current sheet.
const ExcessRowName = "object not present in ledger"

// Triple is the (factory, warehouse, document-type) key that scopes the
// one-active-snapshot invariant.
type Triple struct {
	Factory   int    `json:"factory"`
	Warehouse string `json:"warehouse"`
	DocType   string `json:"doc_type"`
}

func (t Triple) String() string {
	return fmt.Sprintf("%d/%s/%s", t.Factory, t.Warehouse, t.DocType)
}

// MatchKey is the multiset key used by reconciliation. Warehouse is not part
// of the key: inventory objects are loaded per warehouse already, and sheet
// rows carry no finer identity than factory + inventory code + batch.
type MatchKey struct {
	Factory       int
	InventoryCode string
	BatchCode     string
}

// Snapshot identifies one uploaded stock sheet. At most one snapshot is
// active per triple.
type Snapshot struct {
	ID        string    `json:"id"`
	Triple    Triple    `json:"triple"`
	Filename  string    `json:"filename"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// LedgerRow is one unit-quantity line item derived from a stock sheet.
// Backed and Excess are owned by reconciliation; Ignored is set by user
// action and is never recomputed.
type LedgerRow struct {
	ID            int64  `json:"id"`
	SnapshotID    string `json:"snapshot_id"`
	Triple        Triple `json:"triple"`
	InventoryCode string `json:"inventory_code"`
	BatchCode     string `json:"batch_code"`
	Name          string `json:"name"`
	Backed        bool   `json:"backed"`
	Ignored       bool   `json:"ignored"`
	Excess        bool   `json:"excess"`
	Pos           int    `json:"pos"` // sheet order, stable across reconciliation runs
}

// MatchKey returns the reconciliation key for the row.
func (r LedgerRow) MatchKey() MatchKey {
	return MatchKey{Factory: r.Triple.Factory, InventoryCode: r.InventoryCode, BatchCode: r.BatchCode}
}

// InventoryObject is one physical unit known to the inventory module.
// Reconciliation reads this table and never writes it.
type InventoryObject struct {
	Factory        int    `json:"factory"`
	Warehouse      string `json:"warehouse"`
	InventoryCode  string `json:"inventory_code"`
	BatchCode      string `json:"batch_code"`
	Name           string `json:"name"`
	Serial         string `json:"serial"`
	Location       string `json:"location"`
	Decommissioned bool   `json:"decommissioned"`
}

// MatchKey returns the reconciliation key for the object.
func (o InventoryObject) MatchKey() MatchKey {
	return MatchKey{Factory: o.Factory, InventoryCode: o.InventoryCode, BatchCode: o.BatchCode}
}
