package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/stockledger/internal/ledger"
	"github.com/sells-group/stockledger/internal/model"
	"github.com/sells-group/stockledger/internal/store"
)

func newTestAPI(t *testing.T) (http.Handler, *ledger.Service) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	svc := ledger.NewService(st, nil)
	return newRouter(svc, ledger.NewBroadcaster()), svc
}

func buildTestSheet(t *testing.T, rows [][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Лист1")
	require.NoError(t, err)

	hr := sh.AddRow()
	for _, h := range []string{"Завод", "Склад", "Материал", "Инвентарный номер", "Партия", "Конечный остаток"} {
		hr.AddCell().Value = h
	}
	for _, r := range rows {
		xr := sh.AddRow()
		for _, c := range r {
			xr.AddCell().Value = c
		}
	}

	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func multipartUpload(t *testing.T, filename string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func ingestSheet(t *testing.T, h http.Handler, filename string, rows [][]string) {
	t.Helper()
	body, ct := multipartUpload(t, filename, buildTestSheet(t, rows), map[string]string{
		"factory": "4030", "warehouse": "s010", "doctype": "OSV",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/ledger/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestHealth(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestIngestEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)

	body, ct := multipartUpload(t, "osv.xlsx",
		buildTestSheet(t, [][]string{{"4030", "s010", "M-A1", "A1", "B1", "2"}}),
		map[string]string{"factory": "4030", "warehouse": "s010", "doctype": "OSV"})
	req := httptest.NewRequest(http.MethodPost, "/api/ledger/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ledger.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 2, res.InsertedRows)
}

func TestIngestEndpoint_RejectedFile(t *testing.T) {
	h, _ := newTestAPI(t)

	body, ct := multipartUpload(t, "broken.xlsx", []byte("garbage"),
		map[string]string{"factory": "4030", "warehouse": "s010", "doctype": "OSV"})
	req := httptest.NewRequest(http.MethodPost, "/api/ledger/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var res ledger.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.NotEmpty(t, res.Rejected)
}

func TestIngestEndpoint_BadFactory(t *testing.T) {
	h, _ := newTestAPI(t)

	for _, factory := range []string{"plant-4030", ""} {
		fields := map[string]string{"warehouse": "s010", "doctype": "OSV"}
		if factory != "" {
			fields["factory"] = factory
		}
		body, ct := multipartUpload(t, "osv.xlsx", buildTestSheet(t, nil), fields)
		req := httptest.NewRequest(http.MethodPost, "/api/ledger/ingest", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code, "factory=%q", factory)
	}
}

func TestIngestEndpoint_MissingClassification(t *testing.T) {
	h, _ := newTestAPI(t)

	body, ct := multipartUpload(t, "osv.xlsx", buildTestSheet(t, nil),
		map[string]string{"factory": "4030"})
	req := httptest.NewRequest(http.MethodPost, "/api/ledger/ingest", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRowsEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	ingestSheet(t, h, "osv.xlsx", [][]string{{"4030", "s010", "M-A1", "A1", "B1", "1"}})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/ledger/rows?factory=4030&warehouse=s010&doctype=OSV", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []model.LedgerRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0].InventoryCode)

	// Unknown triple returns an empty array, not null.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/ledger/rows?factory=1&warehouse=x&doctype=Y", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestRowsEndpoint_BadQuery(t *testing.T) {
	h, _ := newTestAPI(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ledger/rows?factory=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRowIgnoredEndpoint(t *testing.T) {
	h, svc := newTestAPI(t)
	ingestSheet(t, h, "osv.xlsx", [][]string{{"4030", "s010", "M-A1", "A1", "B1", "1"}})

	triple := model.Triple{Factory: 4030, Warehouse: "s010", DocType: "OSV"}
	rows, err := svc.Rows(context.Background(), triple)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	body := strings.NewReader(`{"ignored":true}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch,
		"/api/ledger/rows/"+strconv.FormatInt(rows[0].ID, 10)+"/ignored", body))
	require.Equal(t, http.StatusOK, rec.Code)

	rows, err = svc.Rows(context.Background(), triple)
	require.NoError(t, err)
	assert.True(t, rows[0].Ignored)

	// Unknown id is a 404.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch,
		"/api/ledger/rows/99999/ignored", strings.NewReader(`{"ignored":true}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRowsIgnoredByKeyEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)
	ingestSheet(t, h, "osv.xlsx", [][]string{{"4030", "s010", "M-A1", "A1", "B1", "3"}})

	body := strings.NewReader(`{"inventory_code":"A1","batch_code":"B1","ignored":true}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/api/ledger/rows/ignored", body))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":3}`, rec.Body.String())
}

func TestReconcileEndpoint(t *testing.T) {
	h, _ := newTestAPI(t)

	body := strings.NewReader(`{"factory":4030,"warehouse":"s010","doc_type":"OSV"}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", body))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reconcile", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInventoryEndpoints(t *testing.T) {
	h, _ := newTestAPI(t)
	ingestSheet(t, h, "osv.xlsx", [][]string{{"4030", "s010", "M-A1", "A1", "B1", "1"}})

	obj := `{"factory":4030,"warehouse":"s010","inventory_code":"A1","batch_code":"B1","serial":"SN-1"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/inventory", strings.NewReader(obj)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The upsert re-reconciles: the ledger row is now backed.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/ledger/rows?factory=4030&warehouse=s010&doctype=OSV", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []model.LedgerRow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Backed)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/inventory", strings.NewReader(obj)))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/inventory", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
