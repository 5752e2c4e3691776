// Package repository keeps the waste ledger: waste types, customers and the
// weight recorded for every (waste type, customer) pair.
package repository

import (
	"context"

	"github.com/zydorg/kemunify/internal/domain/model"
)

// Totals summarises the ledger.
type Totals struct {
	WasteTypes int
	Customers  int
	Weight     model.Weight
}

// Store provides read/write access to the ledger. Every mutation is atomic.
type Store interface {
	// InsertWasteType adds a waste type with no weights. Names may repeat.
	InsertWasteType(ctx context.Context, name string) (model.WasteType, error)

	// RenameWasteType renames every waste type called oldName and returns how
	// many were renamed.
	RenameWasteType(ctx context.Context, oldName, newName string) (int64, error)

	// UpdateWeight sets the customer's weight on the oldest waste type called
	// wasteType. It returns false, and changes nothing, when there is no such
	// waste type or customer.
	UpdateWeight(ctx context.Context, wasteType, customer string, weight model.Weight) (bool, error)

	// DeleteWasteType removes every waste type called name with its weights.
	DeleteWasteType(ctx context.Context, name string) (int64, error)

	// AddCustomerWithWeights registers (or re-registers) a customer and sets
	// its weight on every waste type, zero where weights has no entry. An
	// empty ledger gets one waste type per key of weights.
	AddCustomerWithWeights(ctx context.Context, name, registeredAt string, weights model.Weights) error

	// DeleteCustomer removes the customer and its weight on every waste type.
	DeleteCustomer(ctx context.Context, name string) (bool, error)

	// DeleteAllCustomers removes every customer and every weight.
	DeleteAllCustomers(ctx context.Context) error

	// SeedWasteTypes inserts names when the ledger has no waste types yet.
	SeedWasteTypes(ctx context.Context, names []string) (bool, error)

	// GetWasteType returns the oldest waste type called name or ErrNotFound.
	GetWasteType(ctx context.Context, name string) (model.WasteType, error)

	ListWasteTypes(ctx context.Context) ([]model.WasteType, error)
	ListCustomers(ctx context.Context) ([]model.Customer, error)

	// WatchWasteTypes delivers the current list, then a fresh list after
	// every change. A slow reader only sees the newest list. The channel is
	// closed when ctx is done.
	WatchWasteTypes(ctx context.Context) (<-chan []model.WasteType, error)

	// WatchCustomers is WatchWasteTypes for customers.
	WatchCustomers(ctx context.Context) (<-chan []model.Customer, error)

	Totals(ctx context.Context) (Totals, error)
	Close() error
}
