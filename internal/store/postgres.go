package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/stockledger/internal/db"
	"github.com/sells-group/stockledger/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id         TEXT PRIMARY KEY,
	factory    INTEGER NOT NULL,
	warehouse  TEXT NOT NULL,
	doc_type   TEXT NOT NULL,
	filename   TEXT NOT NULL,
	active     BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_snapshots_one_active
	ON snapshots(factory, warehouse, doc_type) WHERE active;

CREATE TABLE IF NOT EXISTS ledger_rows (
	id             BIGSERIAL PRIMARY KEY,
	snapshot_id    TEXT NOT NULL REFERENCES snapshots(id),
	factory        INTEGER NOT NULL,
	warehouse      TEXT NOT NULL,
	doc_type       TEXT NOT NULL,
	inventory_code TEXT NOT NULL,
	batch_code     TEXT NOT NULL DEFAULT '',
	name           TEXT NOT NULL DEFAULT '',
	backed         BOOLEAN NOT NULL DEFAULT false,
	ignored        BOOLEAN NOT NULL DEFAULT false,
	excess         BOOLEAN NOT NULL DEFAULT false,
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
	decommissioned BOOLEAN NOT NULL DEFAULT false,
	PRIMARY KEY (factory, warehouse, inventory_code, batch_code, serial)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// WithTx runs fn in a serializable transaction. Serializable is the
// strongest isolation pgx offers and is what makes the multi-statement
// swap in the ledger package safe across concurrent processes.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit tx")
}

func (s *PostgresStore) ActiveSnapshot(ctx context.Context, triple model.Triple) (*model.Snapshot, error) {
	return pgActiveSnapshot(ctx, s.pool, triple)
}

func (s *PostgresStore) ActiveSnapshots(ctx context.Context, factory int, warehouse string) ([]model.Snapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, factory, warehouse, doc_type, filename, active, created_at
		 FROM snapshots WHERE factory = $1 AND warehouse = $2 AND active`,
		factory, warehouse,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active snapshots")
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		var sn model.Snapshot
		if err := rows.Scan(&sn.ID, &sn.Triple.Factory, &sn.Triple.Warehouse, &sn.Triple.DocType,
			&sn.Filename, &sn.Active, &sn.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot")
		}
		snaps = append(snaps, sn)
	}
	return snaps, eris.Wrap(rows.Err(), "postgres: list active snapshots iterate")
}

func (s *PostgresStore) Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return pgRows(ctx, s.pool, triple, false)
}

func (s *PostgresStore) ListInventory(ctx context.Context, factory int, warehouse string) ([]model.InventoryObject, error) {
	return pgListInventory(ctx, s.pool, factory, warehouse)
}

func (s *PostgresStore) SetRowIgnored(ctx context.Context, rowID int64, ignored bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_rows SET ignored = $1 WHERE id = $2 AND NOT excess`,
		ignored, rowID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set row %d ignored", rowID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ledger row not found: %d", rowID)
	}
	return nil
}

func (s *PostgresStore) SetRowsIgnoredByKey(ctx context.Context, inventoryCode, batchCode string, ignored bool) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ledger_rows SET ignored = $1 WHERE inventory_code = $2 AND batch_code = $3 AND NOT excess`,
		ignored, inventoryCode, batchCode,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: set rows ignored by key %s/%s", inventoryCode, batchCode)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) UpsertInventoryObject(ctx context.Context, obj model.InventoryObject) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO inventory_objects (factory, warehouse, inventory_code, batch_code, name, serial, location, decommissioned)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (factory, warehouse, inventory_code, batch_code, serial)
		 DO UPDATE SET name = $5, location = $7, decommissioned = $8`,
		obj.Factory, obj.Warehouse, obj.InventoryCode, obj.BatchCode, obj.Name, obj.Serial, obj.Location, obj.Decommissioned,
	)
	return eris.Wrap(err, "postgres: upsert inventory object")
}

func (s *PostgresStore) DeleteInventoryObject(ctx context.Context, obj model.InventoryObject) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM inventory_objects
		 WHERE factory = $1 AND warehouse = $2 AND inventory_code = $3 AND batch_code = $4 AND serial = $5`,
		obj.Factory, obj.Warehouse, obj.InventoryCode, obj.BatchCode, obj.Serial,
	)
	return eris.Wrap(err, "postgres: delete inventory object")
}

// pgTx implements Tx over a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) ActiveSnapshot(ctx context.Context, triple model.Triple) (*model.Snapshot, error) {
	return pgActiveSnapshot(ctx, t.tx, triple)
}

func (t *pgTx) InsertSnapshot(ctx context.Context, snap model.Snapshot) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO snapshots (id, factory, warehouse, doc_type, filename, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, false, $6)`,
		snap.ID, snap.Triple.Factory, snap.Triple.Warehouse, snap.Triple.DocType, snap.Filename, snap.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert snapshot")
}

func (t *pgTx) SetSnapshotActive(ctx context.Context, id string, active bool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE snapshots SET active = $1 WHERE id = $2`,
		active, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set snapshot %s active", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("snapshot not found: %s", id)
	}
	return nil
}

func (t *pgTx) DeleteRowsByTriple(ctx context.Context, triple model.Triple) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM ledger_rows WHERE factory = $1 AND warehouse = $2 AND doc_type = $3`,
		triple.Factory, triple.Warehouse, triple.DocType,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete rows for %s", triple)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) DeleteExcessRows(ctx context.Context, triple model.Triple) (int64, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM ledger_rows WHERE factory = $1 AND warehouse = $2 AND doc_type = $3 AND excess`,
		triple.Factory, triple.Warehouse, triple.DocType,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete excess rows for %s", triple)
	}
	return tag.RowsAffected(), nil
}

// ledgerRowColumns is the COPY column list for bulk row insertion; ids are
// assigned by the database.
var ledgerRowColumns = []string{
	"snapshot_id", "factory", "warehouse", "doc_type",
	"inventory_code", "batch_code", "name",
	"backed", "ignored", "excess", "pos",
}

func (t *pgTx) BulkInsertRows(ctx context.Context, rows []model.LedgerRow) (int64, error) {
	values := make([][]any, len(rows))
	for i, r := range rows {
		values[i] = []any{
			r.SnapshotID, r.Triple.Factory, r.Triple.Warehouse, r.Triple.DocType,
			r.InventoryCode, r.BatchCode, r.Name,
			r.Backed, r.Ignored, r.Excess, r.Pos,
		}
	}
	return db.CopyFrom(ctx, t.tx, "ledger_rows", ledgerRowColumns, values)
}

func (t *pgTx) Rows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return pgRows(ctx, t.tx, triple, false)
}

func (t *pgTx) NonExcessRows(ctx context.Context, triple model.Triple) ([]model.LedgerRow, error) {
	return pgRows(ctx, t.tx, triple, true)
}

func (t *pgTx) UpdateBackedFlags(ctx context.Context, ids []int64, backed bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`UPDATE ledger_rows SET backed = $1 WHERE id = ANY($2)`,
		backed, ids,
	)
	return eris.Wrap(err, "postgres: update backed flags")
}

func (t *pgTx) ListInventory(ctx context.Context, factory int, warehouse string) ([]model.InventoryObject, error) {
	return pgListInventory(ctx, t.tx, factory, warehouse)
}

// querier is satisfied by both db.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgActiveSnapshot(ctx context.Context, q querier, triple model.Triple) (*model.Snapshot, error) {
	var sn model.Snapshot
	err := q.QueryRow(ctx,
		`SELECT id, factory, warehouse, doc_type, filename, active, created_at
		 FROM snapshots WHERE factory = $1 AND warehouse = $2 AND doc_type = $3 AND active`,
		triple.Factory, triple.Warehouse, triple.DocType,
	).Scan(&sn.ID, &sn.Triple.Factory, &sn.Triple.Warehouse, &sn.Triple.DocType,
		&sn.Filename, &sn.Active, &sn.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: active snapshot for %s", triple)
	}
	return &sn, nil
}

func pgRows(ctx context.Context, q querier, triple model.Triple, excludeExcess bool) ([]model.LedgerRow, error) {
	query := `SELECT id, snapshot_id, factory, warehouse, doc_type, inventory_code, batch_code, name, backed, ignored, excess, pos
	          FROM ledger_rows WHERE factory = $1 AND warehouse = $2 AND doc_type = $3`
	if excludeExcess {
		query += ` AND NOT excess`
	}
	query += ` ORDER BY pos, id`

	rows, err := q.Query(ctx, query, triple.Factory, triple.Warehouse, triple.DocType)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: rows for %s", triple)
	}
	defer rows.Close()

	var out []model.LedgerRow
	for rows.Next() {
		var r model.LedgerRow
		if err := rows.Scan(&r.ID, &r.SnapshotID, &r.Triple.Factory, &r.Triple.Warehouse, &r.Triple.DocType,
			&r.InventoryCode, &r.BatchCode, &r.Name, &r.Backed, &r.Ignored, &r.Excess, &r.Pos); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ledger row")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: rows iterate")
}

func pgListInventory(ctx context.Context, q querier, factory int, warehouse string) ([]model.InventoryObject, error) {
	rows, err := q.Query(ctx,
		`SELECT factory, warehouse, inventory_code, batch_code, name, serial, location, decommissioned
		 FROM inventory_objects
		 WHERE factory = $1 AND warehouse = $2 AND NOT decommissioned
		 ORDER BY inventory_code, batch_code, serial`,
		factory, warehouse,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list inventory %d/%s", factory, warehouse)
	}
	defer rows.Close()

	var out []model.InventoryObject
	for rows.Next() {
		var o model.InventoryObject
		if err := rows.Scan(&o.Factory, &o.Warehouse, &o.InventoryCode, &o.BatchCode,
			&o.Name, &o.Serial, &o.Location, &o.Decommissioned); err != nil {
			return nil, eris.Wrap(err, "postgres: scan inventory object")
		}
		out = append(out, o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list inventory iterate")
}
