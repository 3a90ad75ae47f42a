package ledger

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/stockledger/internal/model"
)

// ErrInventoryCountFile marks files classified as inventory-count documents,
// which this pipeline does not ingest.
var ErrInventoryCountFile = eris.New("inventory-count documents are not ingested")

// TxError wraps a persistence failure inside the snapshot-swap transaction.
// The storage cause is preserved for logging but callers only see the
// domain shape.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("ledger: %s transaction failed: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

// ReconcileError wraps a failure during a reconciliation pass. The triple's
// prior reconciled state remains visible when this is returned.
type ReconcileError struct {
	Triple model.Triple
	Err    error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("ledger: reconciliation failed for %s: %v", e.Triple, e.Err)
}

func (e *ReconcileError) Unwrap() error { return e.Err }
