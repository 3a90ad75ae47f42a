package source

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/time/rate"

	"github.com/sells-group/stockledger/internal/ledger"
	"github.com/sells-group/stockledger/internal/model"
	"github.com/sells-group/stockledger/internal/store"
)

func buildTestSheet(t *testing.T) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Лист1")
	require.NoError(t, err)

	hr := sh.AddRow()
	for _, h := range []string{"Завод", "Склад", "Материал", "Инвентарный номер", "Партия", "Конечный остаток"} {
		hr.AddCell().Value = h
	}
	xr := sh.AddRow()
	for _, c := range []string{"4030", "s010", "M-A1", "A1", "B1", "2"} {
		xr.AddCell().Value = c
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

// outageStore fails the first transaction to mimic a database blip, then
// behaves normally.
type outageStore struct {
	store.Store
	mu     sync.Mutex
	failed bool
}

func (s *outageStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	first := !s.failed
	s.failed = true
	s.mu.Unlock()
	if first {
		return eris.New("store: connection reset")
	}
	return s.Store.WithTx(ctx, fn)
}

func TestWatcher_IngestsDroppedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "osv_s010.xlsx"), buildTestSheet(t), 0o644))

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	svc := ledger.NewService(st, nil)

	rules := []Rule{{Match: "osv_s010", Factory: 4030, Warehouse: "s010", DocType: "OSV"}}
	w := NewWatcher(NewDirSource(dir), NewRuleClassifier(rules, nil), svc, rate.Every(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	triple := model.Triple{Factory: 4030, Warehouse: "s010", DocType: "OSV"}
	deadline := time.After(5 * time.Second)
	for {
		rows, err := svc.Rows(ctx, triple)
		require.NoError(t, err)
		if len(rows) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("watcher did not ingest the file, have %d rows", len(rows))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatcher_RedeliversFileAfterStoreOutage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "osv_s010.xlsx"), buildTestSheet(t), 0o644))

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	svc := ledger.NewService(&outageStore{Store: st}, nil)

	rules := []Rule{{Match: "osv_s010", Factory: 4030, Warehouse: "s010", DocType: "OSV"}}
	w := NewWatcher(NewDirSource(dir), NewRuleClassifier(rules, nil), svc, rate.Every(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()

	// The first ingest attempt hits the outage; the file stays unacked and
	// is picked up again on a later cycle.
	triple := model.Triple{Factory: 4030, Warehouse: "s010", DocType: "OSV"}
	deadline := time.After(5 * time.Second)
	for {
		rows, err := svc.Rows(ctx, triple)
		require.NoError(t, err)
		if len(rows) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("file was not re-ingested after the outage, have %d rows", len(rows))
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}
