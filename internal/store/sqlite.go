package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/stockledger/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	factory    INTEGER NOT NULL,
	warehouse  TEXT NOT NULL,
	doc_type   TEXT NOT NULL,
	filename   TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_one_active
	ON snapshots(factory, warehouse, doc_type) WHERE active;

CREATE TABLE IF NOT EXISTS ledger_rows (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	snapshot_id    TEXT NOT NULL REFERENCES snapshots(id),
	factory        INTEGER NOT NULL,
	warehouse      TEXT NOT NULL,
	doc_type       TEXT NOT NULL,
	inventory_code TEXT NOT NULL,
	batch_code     TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL DEFAULT '',
	backed         BOOLEAN NOT NULL DEFAULT 0,
	ignored        BOOLEAN NOT NULL DEFAULT 0,
	excess         BOOLEAN NOT NULL DEFAULT 0,
	pos            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_rows_triple ON ledger_rows(factory, warehouse, doc_type);
CREATE INDEX IF NOT EXISTS idx_ledger_rows_key ON ledger_rows(inventory_code, batch_code);

CREATE TABLE IF NOT EXISTS inventory_objects (
	factory        INTEGER NOT NULL,
	warehouse      TEXT NOT NULL,
	inventory_code TEXT NOT NULL,
	batch_code     TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL DEFAULT '',
	serial         TEXT NOT NULL DEFAULT '',
	location       TEXT NOT NULL DEFAULT '',
	decommissioned BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (factory, warehouse, inventory_code, batch_code, serial)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// WithTx runs fn in one transaction. SQLite transactions are serializable
// by construction, so no explicit isolation level is requested.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqliteTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func (s *SQLiteStore) ActiveSnapshot(ctx context.Context, triple model.Triple) (*model.Snapshot, error) {
	return sqliteActiveSnapshot(ctx, s.db, triple)
}

func (s *SQLiteStore) ActiveSnapshots(ctx context.Context, factory int, warehouse string) ([]model.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, factory, warehouse, doc_type, filename, active, created_at
		 FROM snapshots WHERE factory = ? AND warehouse = ? AND active`,
		factory, warehouse,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active snapshots")
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var sn model.Snapshot
		if err := rows.Scan(&sn.ID, &sn.Triple.Factory, &sn.Triple.Warehouse, &sn.Triple.DocType,
			&sn.Filename, &sn.Active, &sn.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot")
		}
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "sqlite: list active snapshots iterate")
}

func (s *SQLiteStore) Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return sqliteRows(ctx, s.db, triple, false)
}

func (s *SQLiteStore) ListInventory(ctx context.Context, factory int, warehouse string) ([]model.InventoryObject, error) {
	return sqliteListInventory(ctx, s.db, factory, warehouse)
}

func (s *SQLiteStore) SetRowIgnored(ctx context.Context, rowID int64, ignored bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_rows SET ignored = ? WHERE id = ? AND NOT excess`,
		ignored, rowID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set row %d ignored", rowID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("ledger row not found: %d", rowID)
	}
	return nil
}

func (s *SQLiteStore) SetRowsIgnoredByKey(ctx context.Context, inventoryCode, batchCode string, ignored bool) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_rows SET ignored = ? WHERE inventory_code = ? AND batch_code = ? AND NOT excess`,
		ignored, inventoryCode, batchCode,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: set rows ignored by key %s/%s", inventoryCode, batchCode)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) UpsertInventoryObject(ctx context.Context, obj model.InventoryObject) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO inventory_objects (factory, warehouse, inventory_code, batch_code, name, serial, location, decommissioned)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (factory, warehouse, inventory_code, batch_code, serial)
		 DO UPDATE SET name = excluded.name, location = excluded.location, decommissioned = excluded.decommissioned`,
		obj.Factory, obj.Warehouse, obj.InventoryCode, obj.BatchCode, obj.Name, obj.Serial, obj.Location, obj.Decommissioned,
	)
	return eris.Wrap(err, "sqlite: upsert inventory object")
}

func (s *SQLiteStore) DeleteInventoryObject(ctx context.Context, obj model.InventoryObject) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inventory_objects
		 WHERE factory = ? AND warehouse = ? AND inventory_code = ? AND batch_code = ? AND serial = ?`,
		obj.Factory, obj.Warehouse, obj.InventoryCode, obj.BatchCode, obj.Serial,
	)
	return eris.Wrap(err, "sqlite: delete inventory object")
}

// sqliteTx implements Tx over database/sql.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ActiveSnapshot(ctx context.Context, triple model.Triple) (*model.Snapshot, error) {
	return sqliteActiveSnapshot(ctx, t.tx, triple)
}

func (t *sqliteTx) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, factory, warehouse, doc_type, filename, active, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		snap.ID, snap.Triple.Factory, snap.Triple.Warehouse, snap.Triple.DocType, snap.Filename, snap.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert snapshot")
}

func (t *sqliteTx) SetSnapshotActive(ctx context.Context, id string, active bool) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE snapshots SET active = ? WHERE id = ?`,
		active, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set snapshot %s active", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("snapshot not found: %s", id)
	}
	return nil
}

func (t *sqliteTx) DeleteRowsByTriple(ctx context.Context, triple model.Triple) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM ledger_rows WHERE factory = ? AND warehouse = ? AND doc_type = ?`,
		triple.Factory, triple.Warehouse, triple.DocType,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete rows for %s", triple)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (t *sqliteTx) DeleteExcessRows(ctx context.Context, triple model.Triple) (int64, error) {
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM ledger_rows WHERE factory = ? AND warehouse = ? AND doc_type = ? AND excess`,
		triple.Factory, triple.Warehouse, triple.DocType,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete excess rows for %s", triple)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (t *sqliteTx) BulkInsertRows(ctx context.Context, rows []model.LedgerRow) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO ledger_rows (snapshot_id, factory, warehouse, doc_type, inventory_code, batch_code, name, backed, ignored, excess, pos)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare bulk insert")
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.SnapshotID, r.Triple.Factory, r.Triple.Warehouse, r.Triple.DocType,
			r.InventoryCode, r.BatchCode, r.Name, r.Backed, r.Ignored, r.Excess, r.Pos,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: bulk insert row")
		}
	}
	return int64(len(rows)), nil
}

func (t *sqliteTx) Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return sqliteRows(ctx, t.tx, triple, false)
}

func (t *sqliteTx) NonExcessRows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return sqliteRows(ctx, t.tx, triple, true)
}

func (t *sqliteTx) UpdateBackedFlags(ctx context.Context, ids []int64, backed bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, backed)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE ledger_rows SET backed = ? WHERE id IN (%s)`, placeholders),
		args...,
	)
	return eris.Wrap(err, "sqlite: update backed flags")
}

func (t *sqliteTx) ListInventory(ctx context.Context, factory int, warehouse string) ([]model.InventoryObject, error) {
	return sqliteListInventory(ctx, t.tx, factory, warehouse)
}

// sqlQuerier is satisfied by *sql.DB and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteActiveSnapshot(ctx context.Context, q sqlQuerier, triple model.Triple) (*model.Snapshot, error) {
	var sn model.Snapshot
	err := q.QueryRowContext(ctx,
		`SELECT id, factory, warehouse, doc_type, filename, active, created_at
		 FROM snapshots WHERE factory = ? AND warehouse = ? AND doc_type = ? AND active`,
		triple.Factory, triple.Warehouse, triple.DocType,
	).Scan(&sn.ID, &sn.Triple.Factory, &sn.Triple.Warehouse, &sn.Triple.DocType,
		&sn.Filename, &sn.Active, &sn.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: active snapshot for %s", triple)
	}
	return &sn, nil
}

func sqliteRows(ctx context.Context, q sqlQuerier, triple model.Triple, excludeExcess bool) ([]model.LedgerRow, error) {
	query := `SELECT id, snapshot_id, factory, warehouse, doc_type, inventory_code, batch_code, name, backed, ignored, excess, pos
	          FROM ledger_rows WHERE factory = ? AND warehouse = ? AND doc_type = ?`
	if excludeExcess {
		query += ` AND NOT excess`
	}
	query += ` ORDER BY pos, id`

	rows, err := q.QueryContext(ctx, query, triple.Factory, triple.Warehouse, triple.DocType)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: rows for %s", triple)
	}
	defer rows.Close()

	var out []model.LedgerRow
	for rows.Next() {
		var r model.LedgerRow
		if err := rows.Scan(&r.ID, &r.SnapshotID, &r.Triple.Factory, &r.Triple.Warehouse, &r.Triple.DocType,
			&r.InventoryCode, &r.BatchCode, &r.Name, &r.Backed, &r.Ignored, &r.Excess, &r.Pos); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ledger row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: rows iterate")
}

func sqliteListInventory(ctx context.Context, q sqlQuerier, factory int, warehouse string) ([]model.InventoryObject, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT factory, warehouse, inventory_code, batch_code, name, serial, location, decommissioned
		 FROM inventory_objects
		 WHERE factory = ? AND warehouse = ? AND NOT decommissioned
		 ORDER BY inventory_code, batch_code, serial`,
		factory, warehouse,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list inventory %d/%s", factory, warehouse)
	}
	defer rows.Close()

	var out []model.InventoryObject
	for rows.Next() {
		var o model.InventoryObject
		if err := rows.Scan(&o.Factory, &o.Warehouse, &o.InventoryCode, &o.BatchCode,
			&o.Name, &o.Serial, &o.Location, &o.Decommissioned); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan inventory object")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list inventory iterate")
}
