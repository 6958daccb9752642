package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mdao/lm-indexer/internal/domain/labormarket"
	"github.com/mdao/lm-indexer/internal/domain/servicerequest"
	"github.com/mdao/lm-indexer/internal/domain/submission"
	"github.com/mdao/lm-indexer/internal/domain/validation"
	"github.com/mdao/lm-indexer/internal/storage"
	"github.com/mdao/lm-indexer/internal/usecase"
)

type UseCases struct {
	GetLaborMarket        *usecase.GetLaborMarket
	SearchLaborMarkets    *usecase.SearchLaborMarkets
	IndexLaborMarket      *usecase.IndexLaborMarket
	GetServiceRequest     *usecase.GetServiceRequest
	SearchServiceRequests *usecase.SearchServiceRequests
	GetSubmission         *usecase.GetSubmission
	SearchSubmissions     *usecase.SearchSubmissions
}

type Handlers struct {
	uc        UseCases
	autoIndex bool
	logger    *slog.Logger
}

// NewHandlers wires the read API. autoIndex opens the dev-only indexing
// endpoint.
func NewHandlers(uc UseCases, autoIndex bool, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{uc: uc, autoIndex: autoIndex, logger: logger}
}

func (h *Handlers) SearchLaborMarkets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := labormarket.Search{
		Q:       q.Get("q"),
		Type:    labormarket.Type(q.Get("type")),
		Token:   listParam(q, "token"),
		Project: listParam(q, "project"),
		SortBy:  labormarket.SortBy(q.Get("sortBy")),
		Order:   labormarket.Order(q.Get("order")),
	}
	var err error
	if params.Page, params.First, err = pageParams(q); err != nil {
		h.writeError(w, r, err)
		return
	}

	page, err := h.uc.SearchLaborMarkets.Execute(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handlers) GetLaborMarket(w http.ResponseWriter, r *http.Request) {
	lm, err := h.uc.GetLaborMarket.Execute(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lm)
}

func (h *Handlers) SearchServiceRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := servicerequest.Search{
		LaborMarket: chi.URLParam(r, "address"),
		Q:           q.Get("q"),
		SortBy:      q.Get("sortBy"),
		Order:       servicerequest.Order(q.Get("order")),
	}
	var err error
	if params.Page, params.First, err = pageParams(q); err != nil {
		h.writeError(w, r, err)
		return
	}

	items, err := h.uc.SearchServiceRequests.Execute(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) GetServiceRequest(w http.ResponseWriter, r *http.Request) {
	sr, err := h.uc.GetServiceRequest.Execute(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sr)
}

func (h *Handlers) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.uc.GetSubmission.Execute(r.Context(), chi.URLParam(r, "address"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) SearchSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := submission.Search{
		Q:                  q.Get("q"),
		LaborMarketAddress: q.Get("laborMarket"),
		ServiceRequestID:   q.Get("serviceRequest"),
		SortBy:             submission.SortBy(q.Get("sortBy")),
		Order:              submission.Order(q.Get("order")),
	}
	var err error
	if params.Page, params.First, err = pageParams(q); err != nil {
		h.writeError(w, r, err)
		return
	}

	items, err := h.uc.SearchSubmissions.Execute(r.Context(), params)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) IndexLaborMarket(w http.ResponseWriter, r *http.Request) {
	if !h.autoIndex {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "auto indexing is disabled"})
		return
	}

	var req labormarket.LaborMarket
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	lm, err := h.uc.IndexLaborMarket.Execute(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lm)
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := validation.AsError(err); ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "validation failed", "issues": verr.Issues})
		return
	}
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// listParam accepts both repeated (?token=a&token=b) and comma separated
// (?token=a,b) values.
func listParam(q url.Values, name string) []string {
	var out []string
	for _, raw := range q[name] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

func pageParams(q url.Values) (page, first int, err error) {
	if page, err = intParam(q, "page"); err != nil {
		return 0, 0, err
	}
	if first, err = intParam(q, "first"); err != nil {
		return 0, 0, err
	}
	return page, first, nil
}

func intParam(q url.Values, name string) (int, error) {
	raw := strings.TrimSpace(q.Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validation.Invalid(name, raw)
	}
	return n, nil
}
