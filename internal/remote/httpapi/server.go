// Package httpapi carries remote.Backend over HTTP: NewHandler exposes any
// Backend as a chi router and Client implements Backend against it.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/MarquesJr132/stock-system/internal/record"
	"github.com/MarquesJr132/stock-system/internal/remote"
)

const maxBodyBytes = 4 << 20

// StockUpdateRequest is the body of POST /v1/rpc/atomic_stock_update.
type StockUpdateRequest struct {
	ProductID     string `json:"product_id"`
	QuantityDelta int64  `json:"quantity_delta"`
	TenantID      string `json:"tenant_id"`
}

// StockUpdateResponse is the reply of a successful stock update.
type StockUpdateResponse struct {
	Quantity int64 `json:"quantity"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    remote.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Table   string           `json:"table,omitempty"`
}

type handler struct {
	backend remote.Backend
	logger  *zap.Logger
}

// NewHandler returns the HTTP routes serving backend.
func NewHandler(backend remote.Backend, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{backend: backend, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/rpc/atomic_stock_update", h.adjustStock)

		r.Get("/{table}", h.list)
		r.Post("/{table}", h.insert)
		r.Put("/{table}", h.upsert)
		r.Patch("/{table}/{id}", h.update)
		r.Delete("/{table}/{id}", h.remove)
	})
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.backend.Ping(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	table := record.Table(chi.URLParam(r, "table"))
	rows, err := h.backend.Select(r.Context(), table, r.URL.Query().Get("tenant_id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	data, err := record.MarshalRecords(rows)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondRaw(w, http.StatusOK, data)
}

func (h *handler) insert(w http.ResponseWriter, r *http.Request) {
	table := record.Table(chi.URLParam(r, "table"))
	rec, ok := h.decodeRecord(w, r, table)
	if !ok {
		return
	}
	row, err := h.backend.Insert(r.Context(), table, rec)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondRecord(w, http.StatusCreated, row)
}

func (h *handler) upsert(w http.ResponseWriter, r *http.Request) {
	table := record.Table(chi.URLParam(r, "table"))
	rec, ok := h.decodeRecord(w, r, table)
	if !ok {
		return
	}
	row, err := h.backend.Upsert(r.Context(), table, rec)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondRecord(w, http.StatusOK, row)
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) {
	table := record.Table(chi.URLParam(r, "table"))
	fields, ok := h.decodeRecord(w, r, table)
	if !ok {
		return
	}
	row, err := h.backend.Update(r.Context(), table, chi.URLParam(r, "id"), r.URL.Query().Get("tenant_id"), fields)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respondRecord(w, http.StatusOK, row)
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	table := record.Table(chi.URLParam(r, "table"))
	if err := h.backend.Delete(r.Context(), table, chi.URLParam(r, "id"), r.URL.Query().Get("tenant_id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var req StockUpdateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.fail(w, remote.NewError(remote.CodeRejected, record.Products, "invalid body: %v", err))
		return
	}
	if req.ProductID == "" || req.TenantID == "" {
		h.fail(w, remote.NewError(remote.CodeRejected, record.Products, "product_id and tenant_id are required"))
		return
	}
	q, err := h.backend.AdjustStock(r.Context(), req.ProductID, req.QuantityDelta, req.TenantID)
	if err != nil {
		h.fail(w, err)
		return
	}
	respond(w, http.StatusOK, StockUpdateResponse{Quantity: q})
}

func (h *handler) decodeRecord(w http.ResponseWriter, r *http.Request, table record.Table) (record.Record, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fail(w, remote.NewError(remote.CodeRejected, table, "read body: %v", err))
		return nil, false
	}
	rec, err := record.UnmarshalRecord(body)
	if err != nil {
		h.fail(w, remote.NewError(remote.CodeRejected, table, "invalid body: %v", err))
		return nil, false
	}
	return rec, true
}

func (h *handler) respondRecord(w http.ResponseWriter, status int, row record.Record) {
	data, err := record.MarshalRecord(row)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondRaw(w, status, data)
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	var re *remote.Error
	if !errors.As(err, &re) {
		h.logger.Error("backend failure", zap.Error(err))
		respond(w, http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	respond(w, statusFor(re.Code), ErrorResponse{Code: re.Code, Message: re.Message, Table: string(re.Table)})
}

func statusFor(code remote.ErrorCode) int {
	switch code {
	case remote.CodeNotFound:
		return http.StatusNotFound
	case remote.CodeDuplicate:
		return http.StatusConflict
	case remote.CodeInsufficientStock:
		return http.StatusUnprocessableEntity
	case remote.CodeRejected:
		return http.StatusBadRequest
	case remote.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func respondRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}
