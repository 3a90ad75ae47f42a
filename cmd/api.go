package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/stockledger/internal/ledger"
	"github.com/sells-group/stockledger/internal/model"
)

// maxUploadBytes caps incoming spreadsheet size.
const maxUploadBytes = 32 << 20

// newRouter wires the HTTP API over the ingestion service. The broadcaster
// backs the SSE change feed; handlers never block on it.
func newRouter(svc *ledger.Service, bcast *ledger.Broadcaster) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/ledger/ingest", handleIngest(svc))
		r.Get("/ledger/rows", handleRows(svc))
		r.Patch("/ledger/rows/{id}/ignored", handleRowIgnored(svc))
		r.Patch("/ledger/rows/ignored", handleRowsIgnoredByKey(svc))
		r.Post("/reconcile", handleReconcile(svc))
		r.Post("/inventory", handleInventoryUpsert(svc))
		r.Delete("/inventory", handleInventoryDelete(svc))
		r.Get("/events", handleEvents(bcast))
	})

	return r
}

func handleIngest(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "invalid multipart body")
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "file field is required")
			return
		}
		defer file.Close()

		payload, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable upload")
			return
		}

		factory, err := strconv.Atoi(r.FormValue("factory"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "factory must be an integer")
			return
		}
		in, err := model.NewIncomingFile(
			header.Filename,
			r.FormValue("sender"),
			r.FormValue("subject"),
			payload,
			factory,
			r.FormValue("warehouse"),
			r.FormValue("doctype"),
			r.FormValue("inventory_count") == "true",
		)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := svc.IngestFile(r.Context(), in)
		if err != nil {
			zap.L().Error("api: ingest failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "ingest failed")
			return
		}
		if res.Rejected != "" {
			writeJSON(w, http.StatusUnprocessableEntity, res)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleRows(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		triple, err := tripleFromQuery(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		rows, err := svc.Rows(r.Context(), triple)
		if err != nil {
			zap.L().Error("api: list rows failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "query failed")
			return
		}
		if rows == nil {
			rows = []model.LedgerRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

func handleRowIgnored(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid row id")
			return
		}

		var req struct {
			Ignored bool `json:"ignored"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if err := svc.SetRowIgnored(r.Context(), id, req.Ignored); err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "ignored": req.Ignored})
	}
}

func handleRowsIgnoredByKey(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			InventoryCode string `json:"inventory_code"`
			BatchCode     string `json:"batch_code"`
			Ignored       bool   `json:"ignored"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.InventoryCode == "" {
			writeError(w, http.StatusBadRequest, "inventory_code is required")
			return
		}

		n, err := svc.SetRowsIgnoredByKey(r.Context(), req.InventoryCode, req.BatchCode, req.Ignored)
		if err != nil {
			zap.L().Error("api: set ignored by key failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "update failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": n})
	}
}

func handleReconcile(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var triple model.Triple
		if err := json.NewDecoder(r.Body).Decode(&triple); err != nil || triple.Warehouse == "" || triple.DocType == "" {
			writeError(w, http.StatusBadRequest, "factory, warehouse and doc_type are required")
			return
		}

		if err := svc.Reconcile(r.Context(), triple); err != nil {
			zap.L().Error("api: reconcile failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "reconcile failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"reconciled": triple.String()})
	}
}

func handleInventoryUpsert(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var obj model.InventoryObject
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil || obj.InventoryCode == "" || obj.Warehouse == "" {
			writeError(w, http.StatusBadRequest, "warehouse and inventory_code are required")
			return
		}

		if err := svc.UpsertInventoryObject(r.Context(), obj); err != nil {
			zap.L().Error("api: inventory upsert failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "upsert failed")
			return
		}
		writeJSON(w, http.StatusOK, obj)
	}
}

func handleInventoryDelete(svc *ledger.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var obj model.InventoryObject
		if err := json.NewDecoder(r.Body).Decode(&obj); err != nil || obj.InventoryCode == "" || obj.Warehouse == "" {
			writeError(w, http.StatusBadRequest, "warehouse and inventory_code are required")
			return
		}

		if err := svc.DeleteInventoryObject(r.Context(), obj); err != nil {
			zap.L().Error("api: inventory delete failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "delete failed")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleEvents streams ledger-changed signals as server-sent events.
func handleEvents(bcast *ledger.Broadcaster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		ch, cancel := bcast.Subscribe()
		defer cancel()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case triple, open := <-ch:
				if !open {
					return
				}
				data, _ := json.Marshal(triple)
				fmt.Fprintf(w, "event: ledger-changed\ndata: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

func tripleFromQuery(r *http.Request) (model.Triple, error) {
	q := r.URL.Query()
	factory, err := strconv.Atoi(q.Get("factory"))
	if err != nil {
		return model.Triple{}, fmt.Errorf("factory must be an integer")
	}
	warehouse := q.Get("warehouse")
	docType := q.Get("doctype")
	if warehouse == "" || docType == "" {
		return model.Triple{}, fmt.Errorf("warehouse and doctype are required")
	}
	return model.Triple{Factory: factory, Warehouse: warehouse, DocType: docType}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
