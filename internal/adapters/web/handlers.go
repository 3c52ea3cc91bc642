package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"invoice-engine/internal/app"
	"invoice-engine/internal/core"

	"github.com/go-chi/chi/v5"
)

// Handler exposes the draft workflow as a JSON API.
type Handler struct {
	svc    app.ApplicationService
	router chi.Router
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recoverer)
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	r.Route("/api/drafts", func(r chi.Router) {
		r.Post("/", h.createDraft)
		r.Route("/{draftID}", func(r chi.Router) {
			r.Get("/", h.getDraft)
			r.Delete("/", h.closeDraft)
			r.Patch("/", h.patchDraft)
			r.Post("/order", h.selectOrder)
			r.Post("/invoice", h.loadInvoice)
			r.Post("/lines", h.addFreeLine)
			r.Put("/lines/{lineKey}/quantity", h.setLineQuantity)
			r.Put("/installments/count", h.setInstallmentCount)
			r.Put("/installments/{index}", h.setInstallmentDate)
			r.Get("/payload", h.assemble)
			r.Post("/submit", h.submit)
		})
	})

	h.router = r
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.svc.CreateDraft())
}

func (h *Handler) getDraft(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.GetDraft(chi.URLParam(r, "draftID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) closeDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CloseDraft(chi.URLParam(r, "draftID")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// draftResponse carries the draft state plus an optional warning for
// degraded collaborator fetches, which are non-terminal.
type draftResponse struct {
	*app.DraftState
	Warning string `json:"warning,omitempty"`
}

func (h *Handler) selectOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OrderID int `json:"pedido_compra_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	state, err := h.svc.SelectOrder(r.Context(), chi.URLParam(r, "draftID"), req.OrderID)
	if err != nil {
		var fetchErr *core.FetchError
		if errors.As(err, &fetchErr) && state != nil {
			// Degraded data set: the draft stays usable, the client should
			// offer a retry.
			writeJSON(w, http.StatusOK, draftResponse{DraftState: state, Warning: fetchErr.Error()})
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{DraftState: state})
}

func (h *Handler) loadInvoice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InvoiceID int `json:"invoice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	state, err := h.svc.LoadInvoice(r.Context(), chi.URLParam(r, "draftID"), req.InvoiceID)
	if err != nil {
		var fetchErr *core.FetchError
		if errors.As(err, &fetchErr) && state != nil {
			writeJSON(w, http.StatusOK, draftResponse{DraftState: state, Warning: fetchErr.Error()})
			return
		}
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draftResponse{DraftState: state})
}

// patchDraft applies header field updates. The body is a flat object of
// field name to string value, matching the entry form.
func (h *Handler) patchDraft(w http.ResponseWriter, r *http.Request) {
	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}

	draftID := chi.URLParam(r, "draftID")
	var state *app.DraftState
	var err error
	for field, value := range fields {
		if state, err = h.svc.SetField(draftID, field, value); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	if state == nil {
		if state, err = h.svc.GetDraft(draftID); err != nil {
			writeDomainError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) addFreeLine(w http.ResponseWriter, r *http.Request) {
	var req app.AddFreeLineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	state, err := h.svc.AddFreeLine(chi.URLParam(r, "draftID"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) setLineQuantity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Quantity string `json:"quantidade"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	state, err := h.svc.SetLineQuantity(chi.URLParam(r, "draftID"), chi.URLParam(r, "lineKey"), req.Quantity)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) setInstallmentCount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	state, err := h.svc.SetInstallmentCount(chi.URLParam(r, "draftID"), req.Count)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) setInstallmentDate(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, r, "invalid installment index", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	var req struct {
		DueDate string `json:"data_vencimento"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, "invalid request body", "BAD_REQUEST", http.StatusBadRequest)
		return
	}
	state, err := h.svc.SetInstallmentDate(chi.URLParam(r, "draftID"), index, req.DueDate)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) assemble(w http.ResponseWriter, r *http.Request) {
	payload, err := h.svc.Assemble(chi.URLParam(r, "draftID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Submit(r.Context(), chi.URLParam(r, "draftID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}
