package api

import (
	"context"
	"net/http"

	"github.com/zydorg/kemunify/internal/domain/model"
	"github.com/zydorg/kemunify/internal/domain/types"
)

// LedgerDependencies defines the ledger operations behind the REST routes.
type LedgerDependencies interface {
	AddWasteType(ctx context.Context, name string) (model.WasteType, error)
	RenameWasteType(ctx context.Context, oldName, newName string) (int64, error)
	DeleteWasteType(ctx context.Context, name string) (int64, error)
	UpdateWeight(ctx context.Context, wasteType, customer, raw string) (model.Weight, bool, error)
	WasteType(ctx context.Context, name string) (model.WasteType, error)
	WasteTypes(ctx context.Context) ([]model.WasteType, error)

	AddCustomer(ctx context.Context, name string, weights map[string]string) (model.Customer, error)
	DeleteCustomer(ctx context.Context, name string) (bool, error)
	DeleteAllCustomers(ctx context.Context) error
	Customers(ctx context.Context) ([]model.Customer, error)

	Recap(ctx context.Context) (types.Recap, error)
}

// LedgerHandler serves waste types, customers and weights.
type LedgerHandler struct {
	deps LedgerDependencies
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(deps LedgerDependencies) *LedgerHandler {
	return &LedgerHandler{deps: deps}
}

type nameRequest struct {
	Name string `json:"name"`
}

type customerRequest struct {
	Name    string            `json:"name"`
	Weights map[string]string `json:"weights"`
}

type weightRequest struct {
	Weight string `json:"weight"`
}

type weightResponse struct {
	WasteType string       `json:"waste_type"`
	Customer  string       `json:"customer"`
	Weight    model.Weight `json:"weight"`
	Updated   bool         `json:"updated"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type deletedResponse struct {
	Deleted bool `json:"deleted"`
}

// HandleListWasteTypes handles GET /waste-types.
func (h *LedgerHandler) HandleListWasteTypes(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.WasteTypes(r.Context())
	if err != nil {
		fail(w, Wrap("api.list_waste_types", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// HandleAddWasteType handles POST /waste-types.
func (h *LedgerHandler) HandleAddWasteType(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_waste_type"
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	wt, err := h.deps.AddWasteType(r.Context(), req.Name)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, wt)
}

// HandleGetWasteType handles GET /waste-types/{name}.
func (h *LedgerHandler) HandleGetWasteType(w http.ResponseWriter, r *http.Request) {
	wt, err := h.deps.WasteType(r.Context(), r.PathValue("name"))
	if err != nil {
		fail(w, Wrap("api.get_waste_type", err))
		return
	}
	writeJSON(w, http.StatusOK, wt)
}

// HandleRenameWasteType handles PUT /waste-types/{name} with the new name.
func (h *LedgerHandler) HandleRenameWasteType(w http.ResponseWriter, r *http.Request) {
	const op = "api.rename_waste_type"
	var req nameRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	n, err := h.deps.RenameWasteType(r.Context(), r.PathValue("name"), req.Name)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// HandleDeleteWasteType handles DELETE /waste-types/{name}.
func (h *LedgerHandler) HandleDeleteWasteType(w http.ResponseWriter, r *http.Request) {
	n, err := h.deps.DeleteWasteType(r.Context(), r.PathValue("name"))
	if err != nil {
		fail(w, Wrap("api.delete_waste_type", err))
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// HandleUpdateWeight handles PUT /waste-types/{name}/weights/{customer}.
// Unknown waste types or customers leave the ledger unchanged and report
// updated=false.
func (h *LedgerHandler) HandleUpdateWeight(w http.ResponseWriter, r *http.Request) {
	const op = "api.update_weight"
	var req weightRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	wasteType, customer := r.PathValue("name"), r.PathValue("customer")
	weight, ok, err := h.deps.UpdateWeight(r.Context(), wasteType, customer, req.Weight)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, weightResponse{WasteType: wasteType, Customer: customer, Weight: weight, Updated: ok})
}

// HandleListCustomers handles GET /customers.
func (h *LedgerHandler) HandleListCustomers(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Customers(r.Context())
	if err != nil {
		fail(w, Wrap("api.list_customers", err))
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// HandleAddCustomer handles POST /customers.
func (h *LedgerHandler) HandleAddCustomer(w http.ResponseWriter, r *http.Request) {
	const op = "api.add_customer"
	var req customerRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	c, err := h.deps.AddCustomer(r.Context(), req.Name, req.Weights)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// HandleDeleteCustomer handles DELETE /customers/{name}.
func (h *LedgerHandler) HandleDeleteCustomer(w http.ResponseWriter, r *http.Request) {
	ok, err := h.deps.DeleteCustomer(r.Context(), r.PathValue("name"))
	if err != nil {
		fail(w, Wrap("api.delete_customer", err))
		return
	}
	writeJSON(w, http.StatusOK, deletedResponse{Deleted: ok})
}

// HandleDeleteAllCustomers handles DELETE /customers.
func (h *LedgerHandler) HandleDeleteAllCustomers(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.DeleteAllCustomers(r.Context()); err != nil {
		fail(w, Wrap("api.delete_all_customers", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRecap handles GET /recap.
func (h *LedgerHandler) HandleRecap(w http.ResponseWriter, r *http.Request) {
	recap, err := h.deps.Recap(r.Context())
	if err != nil {
		fail(w, Wrap("api.recap", err))
		return
	}
	writeJSON(w, http.StatusOK, recap)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

